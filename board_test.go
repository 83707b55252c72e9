package lineup

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sideAt(state *State, col, rowFromBottom int) *Side {
	return state.Board.at(col, state.Board.Height-1-rowFromBottom)
}

func TestDropTokenFillsFromBottom(t *testing.T) {
	state := NewState(3, 3)
	next, err := DropToken(state, 0, Blue)
	require.NoError(t, err)
	assert.Equal(t, Blue, *sideAt(next, 0, 0))
	assert.Nil(t, sideAt(next, 0, 1))
	assert.Equal(t, Red, next.NextSide)

	next2, err := DropToken(next, 0, Red)
	require.NoError(t, err)
	assert.Equal(t, Red, *sideAt(next2, 0, 1))
}

func TestDropTokenOutOfBounds(t *testing.T) {
	state := NewState(3, 3)
	for _, col := range []int{-1, 3, 99} {
		_, err := DropToken(state, col, Blue)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	}
}

func TestDropTokenOnFullColumnFails(t *testing.T) {
	state := NewState(2, 2)
	var err error
	state, err = DropToken(state, 0, Blue)
	require.NoError(t, err)
	state, err = DropToken(state, 0, Red)
	require.NoError(t, err)

	_, err = DropToken(state, 0, Blue)
	assert.ErrorIs(t, err, ErrColumnFull)
}

func TestDropTokenDoesNotMutateInput(t *testing.T) {
	state := NewState(3, 3)
	_, err := DropToken(state, 0, Blue)
	require.NoError(t, err)
	assert.Nil(t, sideAt(state, 0, 0), "input state must be left untouched")
}

func TestColumnFull(t *testing.T) {
	state := NewState(1, 2)
	assert.False(t, state.ColumnFull(0))
	state, _ = DropToken(state, 0, Blue)
	assert.False(t, state.ColumnFull(0))
	state, _ = DropToken(state, 0, Red)
	assert.True(t, state.ColumnFull(0))
}

// buildColumns drops tokens in the given per-column, bottom-to-top order.
func buildColumns(width, height int, columns map[int][]Side) *State {
	state := NewState(width, height)
	for col, sides := range columns {
		for _, side := range sides {
			var err error
			state, err = DropToken(state, col, side)
			if err != nil {
				panic(err)
			}
		}
	}
	return state
}

func TestWinnersSingleRedWin(t *testing.T) {
	// Column 1 bottom-to-top: BLUE, RED, RED, RED, RED, RED, RED — a
	// vertical 6-run for RED, matching the seed scenario in spec.md §8.
	state := buildColumns(DefaultWidth, DefaultHeight, map[int][]Side{
		1: {Blue, Red, Red, Red, Red, Red, Red},
	})
	winners := Winners(state)
	assert.ElementsMatch(t, []Side{Red}, winners)
}

func TestWinnersTieTakesPrecedenceOverFourLine(t *testing.T) {
	// A fully filled 4x4 board where column 0 is a RED 4-line; the tie
	// rule must still report both sides per spec.md §9's open question.
	state := buildColumns(4, 4, map[int][]Side{
		0: {Red, Red, Red, Red},
		1: {Blue, Blue, Blue, Blue},
		2: {Red, Red, Red, Red},
		3: {Blue, Blue, Blue, Blue},
	})
	winners := Winners(state)
	assert.ElementsMatch(t, []Side{Blue, Red}, winners)
}

func TestWinnersEmptyBoard(t *testing.T) {
	state := NewState(DefaultWidth, DefaultHeight)
	assert.Empty(t, Winners(state))
}

func TestFindAllLinesDiagonal(t *testing.T) {
	state := NewState(4, 4)
	// Build a rising diagonal of BLUE at (0,3)-(1,2)-(2,1)-(3,0) (row 0
	// at top), i.e. direction (1,-1).
	var err error
	state.Board.Cells[3][0] = sidePtr(Blue)
	state.Board.Cells[2][1] = sidePtr(Blue)
	state.Board.Cells[1][2] = sidePtr(Blue)
	state.Board.Cells[0][3] = sidePtr(Blue)
	require.NoError(t, err)

	lines := FindAllLines(state, 4, Blue)
	require.Len(t, lines, 1)
	assert.Equal(t, Vector{X: 0, Y: 3, Dx: 1, Dy: -1, Length: 4}, lines[0])
}

func sidePtr(s Side) *Side { return &s }

func TestVectorEndAndInBounds(t *testing.T) {
	v := Vector{X: 1, Y: 1, Dx: 1, Dy: 1, Length: 3}
	x, y := v.End()
	assert.Equal(t, 3, x)
	assert.Equal(t, 3, y)
	assert.True(t, v.InBounds(4, 4))
	assert.False(t, v.InBounds(3, 3))
}

func TestStateMarshalJSONMatchesWireSchema(t *testing.T) {
	// spec.md §6: State = {board: (int|null)[][], next_side: int}, not Go's
	// default encoding of the nested Board struct.
	state := NewState(2, 2)
	state, err := DropToken(state, 0, Blue)
	require.NoError(t, err)

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"board":[[null,null],[1,null]],"next_side":0}`, string(data))
}

func TestStateUnmarshalJSONRoundTrip(t *testing.T) {
	state := NewState(3, 2)
	state, err := DropToken(state, 1, Red)
	require.NoError(t, err)

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, state, &decoded)
}

func TestVectorExtend(t *testing.T) {
	v := Vector{X: 2, Y: 2, Dx: 1, Dy: 0, Length: 2}
	extended := v.Extend(1, 1)
	assert.Equal(t, Vector{X: 1, Y: 2, Dx: 1, Dy: 0, Length: 4}, extended)
}
