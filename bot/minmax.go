package bot

import (
	"math"

	"lineup"
)

// MinMax is a fixed-depth alpha-beta searcher. Unlike the teacher's Kalah
// agent it cannot search to the end of the game on most boards, so below
// the cutoff it falls back to evaluate, a static count of each side's
// open lines.
type MinMax struct {
	Side  lineup.Side
	Depth int
}

// NewMinMax returns a sandbox.InProcess.New constructor bound to depth.
func NewMinMax(depth int) func(lineup.Code, lineup.Side) (lineup.BotInstance, error) {
	return func(_ lineup.Code, side lineup.Side) (lineup.BotInstance, error) {
		return &MinMax{Side: side, Depth: depth}, nil
	}
}

func (m *MinMax) MakeMove(state *lineup.State) (int, error) {
	open := legalColumns(state)
	if len(open) == 0 {
		return 0, lineup.ErrColumnFull
	}

	move := open[0]
	best := int64(math.MinInt64)
	alpha, beta := int64(-math.MaxInt64), int64(math.MaxInt64)
	for _, col := range open {
		next, err := lineup.DropToken(state, col, m.Side)
		if err != nil {
			continue
		}
		score := -m.search(next, m.Depth-1, -beta, -alpha)
		if score > best {
			best = score
			move = col
		}
		if score > alpha {
			alpha = score
		}
	}
	return move, nil
}

// search is negamax: it always returns the evaluation from the
// perspective of state.NextSide, so the caller negates across plies.
func (m *MinMax) search(state *lineup.State, depth int, alpha, beta int64) int64 {
	if len(lineup.Winners(state)) > 0 || depth == 0 {
		return evaluate(state, state.NextSide)
	}

	open := legalColumns(state)
	if len(open) == 0 {
		return evaluate(state, state.NextSide)
	}

	best := int64(math.MinInt64)
	for _, col := range open {
		next, err := lineup.DropToken(state, col, state.NextSide)
		if err != nil {
			continue
		}
		score := -m.search(next, depth-1, -beta, -alpha)
		if score > best {
			best = score
		}
		if best > alpha {
			alpha = best
		}
		if alpha >= beta {
			break
		}
	}
	return best
}

// evaluate scores state from side's perspective: a completed line for
// side or the opponent dominates the static open-line count.
func evaluate(state *lineup.State, side lineup.Side) int64 {
	winners := lineup.Winners(state)
	for _, w := range winners {
		if w == side {
			return math.MaxInt32
		}
	}
	if len(winners) > 0 {
		return math.MinInt32
	}

	return int64(openLines(state, side)) - int64(openLines(state, side.Other()))
}

// openLines counts length-LineLength windows containing at least one of
// side's tokens and none of the opponent's.
func openLines(state *lineup.State, side lineup.Side) int {
	b := state.Board
	count := 0
	for _, d := range []struct{ Dx, Dy int }{{1, 0}, {0, 1}, {1, 1}, {1, -1}} {
		for y := 0; y < b.Height; y++ {
			for x := 0; x < b.Width; x++ {
				v := lineup.Vector{X: x, Y: y, Dx: d.Dx, Dy: d.Dy, Length: lineup.LineLength}
				if !v.InBounds(b.Width, b.Height) {
					continue
				}
				if windowFavors(b, v, side) {
					count++
				}
			}
		}
	}
	return count
}

func windowFavors(b *lineup.Board, v lineup.Vector, side lineup.Side) bool {
	x, y := v.X, v.Y
	has := false
	for i := 0; i < v.Length; i++ {
		cell := b.Cells[y][x]
		if cell != nil {
			if *cell != side {
				return false
			}
			has = true
		}
		x += v.Dx
		y += v.Dy
	}
	return has
}
