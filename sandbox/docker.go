package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"lineup"
)

// Docker runs one container per bot instance, adapted from the teacher's
// sched/isol/docker.go container lifecycle — ContainerCreate/Start/Kill,
// CPU/memory resource limits, a read-only root filesystem, AutoRemove —
// but speaking the same length-prefixed JSON frame protocol as the
// Process backend (frame.go) over the container's attached stdio instead
// of go-kgp's own KGP listener/protocol.
type Docker struct {
	Client      *client.Client
	Image       string
	CPUs        int64
	MemoryBytes int64
	InitTimeout time.Duration
	MoveTimeout time.Duration
}

type dockerBot struct {
	client      *client.Client
	containerID string
	conn        types.HijackedResponse
	stdout      *bufio.Reader
}

func (d *Docker) Init(code lineup.Code, side lineup.Side) (lineup.BotInstance, *lineup.ExceptionInfo) {
	ctx := context.Background()

	resp, err := d.Client.ContainerCreate(ctx, &container.Config{
		Image:        d.Image,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		StdinOnce:    true,
	}, &container.HostConfig{
		Resources: container.Resources{
			CPUCount: d.CPUs,
			Memory:   d.MemoryBytes,
		},
		ReadonlyRootfs: true,
		AutoRemove:     true,
	}, nil, nil, fmt.Sprintf("lineup-bot-%s-%d", side, time.Now().UnixNano()))
	if err != nil {
		return nil, fail(InitFailed, side, errors.Wrap(err, "container create").Error(), nil)
	}

	hijack, err := d.Client.ContainerAttach(ctx, resp.ID, types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
	})
	if err != nil {
		return nil, fail(InitFailed, side, errors.Wrap(err, "container attach").Error(), nil)
	}

	bot := &dockerBot{
		client:      d.Client,
		containerID: resp.ID,
		conn:        hijack,
		stdout:      bufio.NewReader(hijack.Reader),
	}

	if err := d.Client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		bot.Kill()
		return nil, fail(InitFailed, side, errors.Wrap(err, "container start").Error(), nil)
	}

	ch := make(chan error, 1)
	go func() {
		if err := writeFrame(bot.conn.Conn, initRequest{Code: code, Side: side}); err != nil {
			ch <- err
			return
		}
		var ack initResponse
		if err := readFrame(bot.stdout, &ack); err != nil {
			ch <- err
			return
		}
		if !ack.OK {
			ch <- errString(ack.Msg)
			return
		}
		ch <- nil
	}()

	select {
	case err := <-ch:
		if err != nil {
			bot.Kill()
			return nil, fail(InitFailed, side, err.Error(), nil)
		}
		return bot, nil
	case <-time.After(d.InitTimeout):
		bot.Kill()
		return nil, fail(InitTimedOut, side, "container did not acknowledge init in time", nil)
	}
}

func (d *Docker) InvokeMove(bot lineup.BotInstance, state *lineup.State) (int, *lineup.ExceptionInfo) {
	side := state.NextSide
	type result struct {
		move int
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := bot.MakeMove(state)
		ch <- result{move: m, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return 0, fail(Raises, side, r.err.Error(), nil)
		}
		return r.move, nil
	case <-time.After(d.MoveTimeout):
		if k, ok := bot.(killable); ok {
			k.Kill()
		}
		return 0, fail(Hangs, side, "move exceeded move timeout", nil)
	}
}

func (b *dockerBot) MakeMove(state *lineup.State) (int, error) {
	if err := writeFrame(b.conn.Conn, moveRequest{State: state}); err != nil {
		return 0, err
	}
	var resp moveResponse
	if err := readFrame(b.stdout, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, errString(resp.Error)
	}
	if resp.Move == nil {
		return 0, errString("move response missing move field")
	}
	return *resp.Move, nil
}

func (b *dockerBot) Kill() {
	ctx := context.Background()
	_ = b.client.ContainerKill(ctx, b.containerID, "SIGKILL")
	b.conn.Close()
}

var _ lineup.BotInstance = (*dockerBot)(nil)
var _ killable = (*dockerBot)(nil)
