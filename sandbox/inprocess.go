package sandbox

import (
	"context"
	"fmt"
	"time"

	"lineup"
)

// InProcess runs a bot's constructor and MakeMove directly in the
// Runner's own goroutines, bounded by context.WithTimeout. It is the
// backend for the Go-native reference bots in lineup/bot and for tests.
// It cannot truly kill a CPU-bound, uncooperative goroutine — only
// abandon it — which is exactly the limitation spec.md §9 calls out
// about a thread-based approach; the Process backend exists for bots
// that must be held to that guarantee.
type InProcess struct {
	InitTimeout time.Duration
	MoveTimeout time.Duration
	// New constructs a bot bound to side from code. Supplied by whatever
	// embeds this backend; lineup/bot's reference bots are one example.
	New func(code lineup.Code, side lineup.Side) (lineup.BotInstance, error)
}

func (p *InProcess) Init(code lineup.Code, side lineup.Side) (lineup.BotInstance, *lineup.ExceptionInfo) {
	type result struct {
		bot lineup.BotInstance
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		b, err := p.New(code, side)
		ch <- result{bot: b, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.InitTimeout)
	defer cancel()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fail(InitFailed, side, r.err.Error(), nil)
		}
		return r.bot, nil
	case <-ctx.Done():
		return nil, fail(InitTimedOut, side, "constructor exceeded init timeout", nil)
	}
}

func (p *InProcess) InvokeMove(bot lineup.BotInstance, state *lineup.State) (int, *lineup.ExceptionInfo) {
	type result struct {
		move int
		err  error
	}
	ch := make(chan result, 1)
	side := state.NextSide
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		m, err := bot.MakeMove(state)
		ch <- result{move: m, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.MoveTimeout)
	defer cancel()
	select {
	case r := <-ch:
		if r.err != nil {
			return 0, fail(Raises, side, r.err.Error(), nil)
		}
		return r.move, nil
	case <-ctx.Done():
		// ch is buffered; a late write from the abandoned goroutine is
		// simply never read, and the goroutine is collected once it
		// eventually returns.
		return 0, fail(Hangs, side, "move exceeded move timeout", nil)
	}
}
