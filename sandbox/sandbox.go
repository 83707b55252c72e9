// Package sandbox wraps an untrusted BotInstance with init/move deadlines
// and exception capture, the isolation layer spec.md §4.C requires: the
// game engine must never see a bot's panic, hang, or invalid return value
// as anything other than an ExceptionInfo attributed to that side.
package sandbox

import (
	"fmt"

	"lineup"
)

// Kind is one entry of the failure taxonomy in spec.md §4.C.
type Kind string

const (
	Hangs           Kind = "HANGS"
	Raises          Kind = "RAISES"
	InvalidMove     Kind = "INVALID_MOVE"
	MoveBreaksRules Kind = "MOVE_BREAKS_RULES"
	InitFailed      Kind = "INIT_FAILED"
	InitTimedOut    Kind = "INIT_TIMED_OUT"
)

// Executor is the contract the Game Engine drives: construct a bot bound
// to a side, then repeatedly ask it for a move, never blocking past a
// configured deadline and never letting a panic or hang escape.
type Executor interface {
	// Init prepares code as a bot playing side. Deadline: InitTimeout.
	Init(code lineup.Code, side lineup.Side) (lineup.BotInstance, *lineup.ExceptionInfo)
	// InvokeMove asks bot for its next move given state. Deadline:
	// MoveTimeout. A straggler past its deadline is abandoned, not
	// awaited; implementations that can kill the straggler outright
	// (Process, Docker) do so.
	InvokeMove(bot lineup.BotInstance, state *lineup.State) (int, *lineup.ExceptionInfo)
}

// killable is implemented by backends whose BotInstance corresponds to a
// real OS resource (a subprocess or a container) that can be forcibly
// terminated when its deadline elapses, rather than merely abandoned.
type killable interface {
	Kill()
}

func fail(kind Kind, side lineup.Side, msg string, move interface{}) *lineup.ExceptionInfo {
	return &lineup.ExceptionInfo{
		Msg:          fmt.Sprintf("%s: %s", kind, msg),
		CausedBySide: side,
		Move:         move,
	}
}

// ValidateMove checks a move value returned by invoke_move against the
// board rules, producing the INVALID_MOVE / MOVE_BREAKS_RULES members of
// the taxonomy. This is an engine-level check (spec.md §4.B step 2), kept
// here because the taxonomy it emits is defined in §4.C.
func ValidateMove(state *lineup.State, move int, side lineup.Side) *lineup.ExceptionInfo {
	if move < 0 || move >= state.Board.Width {
		return fail(InvalidMove, side, "move out of bounds", move)
	}
	if state.ColumnFull(move) {
		return fail(MoveBreaksRules, side, "column full", move)
	}
	return nil
}
