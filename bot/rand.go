// Package bot provides reference BotInstance implementations used as
// InProcess sandbox backends and in tests: a uniform-random mover and a
// fixed-depth MinMax searcher, both adapted from the teacher's own
// reference agents (bot/rand.go, bot/minmax.go) to this board's
// gravity-drop rules.
package bot

import (
	"math/rand"

	"lineup"
)

// Random always drops into a uniformly chosen non-full column.
type Random struct {
	Side lineup.Side
}

// NewRandom satisfies sandbox.InProcess.New.
func NewRandom(_ lineup.Code, side lineup.Side) (lineup.BotInstance, error) {
	return &Random{Side: side}, nil
}

func (r *Random) MakeMove(state *lineup.State) (int, error) {
	open := legalColumns(state)
	if len(open) == 0 {
		return 0, lineup.ErrColumnFull
	}
	return open[rand.Intn(len(open))], nil
}

func legalColumns(state *lineup.State) []int {
	var open []int
	for col := 0; col < state.Board.Width; col++ {
		if !state.ColumnFull(col) {
			open = append(open, col)
		}
	}
	return open
}
