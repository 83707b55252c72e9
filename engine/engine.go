// Package engine drives the turn loop of one match to completion or to a
// bot failure, per spec.md §4.B.
package engine

import (
	"lineup"
	"lineup/sandbox"
)

// Play instantiates blueCode and redCode behind ex, then alternates moves
// (Blue first) until a side wins, the board ties, or a bot fails. The
// returned GameLog's states are in play order, one per half-move, with
// the initial empty position first; Winner and Exception are mutually
// exclusive.
func Play(gameID string, blueCode, redCode lineup.Code, ex sandbox.Executor, width, height int) *lineup.GameLog {
	bots := map[lineup.Side]lineup.BotInstance{}

	for _, entry := range []struct {
		side lineup.Side
		code lineup.Code
	}{
		{lineup.Blue, blueCode},
		{lineup.Red, redCode},
	} {
		bot, exc := ex.Init(entry.code, entry.side)
		if exc != nil {
			return &lineup.GameLog{GameId: gameID, Exception: exc}
		}
		bots[entry.side] = bot
	}

	state := lineup.NewState(width, height)
	var states []*lineup.State

	for {
		// Deep copy before any mutation: the engine's recorded log must
		// never be corrupted by a bot or by the next DropToken.
		states = append(states, state.Copy())

		if winners := lineup.Winners(state); len(winners) > 0 {
			log := &lineup.GameLog{GameId: gameID, States: states}
			if len(winners) == 1 {
				w := winners[0]
				log.Winner = &w
			}
			return log
		}

		side := state.NextSide
		move, exc := ex.InvokeMove(bots[side], state)
		if exc != nil {
			return &lineup.GameLog{GameId: gameID, States: states, Exception: exc}
		}

		if exc := sandbox.ValidateMove(state, move, side); exc != nil {
			return &lineup.GameLog{GameId: gameID, States: states, Exception: exc}
		}

		next, err := lineup.DropToken(state, move, side)
		if err != nil {
			// ValidateMove already checked bounds and column fullness,
			// so DropToken cannot fail here.
			panic(err)
		}
		state = next
	}
}
