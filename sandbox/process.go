package sandbox

import (
	"bufio"
	"io"
	"os/exec"
	"time"

	"lineup"
)

// Process is the subprocess-per-bot isolation backend: one os/exec.Cmd
// child speaks the frame protocol in frame.go over its stdin/stdout. On a
// missed deadline the child is killed outright, which is the property a
// plain goroutine (InProcess) cannot offer against uncooperative code.
type Process struct {
	// Command returns a fresh, unstarted command for one bot instance,
	// e.g. exec.Command("python3", "bot_runner.py"). Called once per
	// Init.
	Command     func() *exec.Cmd
	InitTimeout time.Duration
	MoveTimeout time.Duration
}

type processBot struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func (b *processBot) MakeMove(state *lineup.State) (int, error) {
	if err := writeFrame(b.stdin, moveRequest{State: state}); err != nil {
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

func (b *processBot) Kill() {
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func (p *Process) Init(code lineup.Code, side lineup.Side) (lineup.BotInstance, *lineup.ExceptionInfo) {
	cmd := p.Command()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fail(InitFailed, side, err.Error(), nil)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fail(InitFailed, side, err.Error(), nil)
	}
	if err := cmd.Start(); err != nil {
		return nil, fail(InitFailed, side, err.Error(), nil)
	}

	bot := &processBot{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdoutPipe)}

	ch := make(chan error, 1)
	go func() {
		if err := writeFrame(bot.stdin, initRequest{Code: code, Side: side}); err != nil {
			ch <- err
			return
		}
		var resp initResponse
		if err := readFrame(bot.stdout, &resp); err != nil {
			ch <- err
			return
		}
		if !resp.OK {
			ch <- errString(resp.Msg)
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
	case <-time.After(p.InitTimeout):
		bot.Kill()
		return nil, fail(InitTimedOut, side, "constructor exceeded init timeout", nil)
	}
}

func (p *Process) InvokeMove(bot lineup.BotInstance, state *lineup.State) (int, *lineup.ExceptionInfo) {
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
	case <-time.After(p.MoveTimeout):
		if k, ok := bot.(killable); ok {
			k.Kill()
		}
		return 0, fail(Hangs, side, "move exceeded move timeout", nil)
	}
}

var _ lineup.BotInstance = (*processBot)(nil)
var _ killable = (*processBot)(nil)
