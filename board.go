package lineup

import (
	"encoding/json"
	"errors"
)

// LineLength is the number of same-side cells in a row, column, or
// diagonal required to win.
const LineLength = 4

// DefaultWidth and DefaultHeight are the canonical board dimensions; tests
// use smaller boards to exercise edge cases cheaply.
const (
	DefaultWidth  = 7
	DefaultHeight = 7
)

var (
	ErrOutOfBounds = errors.New("column out of bounds")
	ErrColumnFull  = errors.New("column full")
)

// Board is a rectangular grid of cells, row 0 at the top. Gravity means
// that within a column the occupied cells form a contiguous suffix
// starting at the bottom row (Height-1).
type Board struct {
	Width  int
	Height int
	// Cells[row][col] is nil for an empty cell, else the occupying Side.
	Cells [][]*Side
}

// NewBoard returns an empty board of the given dimensions.
func NewBoard(width, height int) *Board {
	cells := make([][]*Side, height)
	for r := range cells {
		cells[r] = make([]*Side, width)
	}
	return &Board{Width: width, Height: height, Cells: cells}
}

// Copy returns a deep copy; mutating the result never affects b.
func (b *Board) Copy() *Board {
	cells := make([][]*Side, b.Height)
	for r, row := range b.Cells {
		cells[r] = make([]*Side, b.Width)
		for c, s := range row {
			if s != nil {
				v := *s
				cells[r][c] = &v
			}
		}
	}
	return &Board{Width: b.Width, Height: b.Height, Cells: cells}
}

func (b *Board) at(x, y int) *Side {
	return b.Cells[y][x]
}

// State is a board configuration plus whose move is next.
type State struct {
	Board    *Board
	NextSide Side
}

// NewState returns the empty initial position with Blue to move, matching
// the engine's turn order (§4.B).
func NewState(width, height int) *State {
	return &State{Board: NewBoard(width, height), NextSide: Blue}
}

// Copy deep-copies the state; the engine snapshots one of these before
// every move so that a mutating bot cannot corrupt the recorded log.
func (s *State) Copy() *State {
	return &State{Board: s.Board.Copy(), NextSide: s.NextSide}
}

// wireState is the §6 wire shape for a board position: a nested grid of
// nullable Side values plus whose move is next. State keeps Board as a
// struct with explicit Width/Height, which this flattens so that every
// process boundary a State crosses — the GameLog the Runner posts to the
// Dispatcher, the states table, and the Process/Docker sandbox's move and
// init frames — sees the same {board, next_side} shape, never Go's default
// struct encoding of the nested Board type.
type wireState struct {
	Board    [][]*Side `json:"board"`
	NextSide Side      `json:"next_side"`
}

// MarshalJSON renders s as the flat {board, next_side} shape.
func (s State) MarshalJSON() ([]byte, error) {
	board := make([][]*Side, s.Board.Height)
	for r, row := range s.Board.Cells {
		board[r] = make([]*Side, s.Board.Width)
		copy(board[r], row)
	}
	return json.Marshal(wireState{Board: board, NextSide: s.NextSide})
}

// UnmarshalJSON parses the flat {board, next_side} shape back into s.
// decode(encode(state)) == state for every reachable State (spec.md §8).
func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	height := len(w.Board)
	width := 0
	if height > 0 {
		width = len(w.Board[0])
	}

	board := NewBoard(width, height)
	for r, row := range w.Board {
		copy(board.Cells[r], row)
	}

	s.Board = board
	s.NextSide = w.NextSide
	return nil
}

// ColumnFull reports whether col's top cell is occupied.
func (s *State) ColumnFull(col int) bool {
	return s.Board.at(col, 0) != nil
}

// DropToken places side at the lowest empty cell of col and returns the
// resulting state with NextSide set to side's opponent.
// State is left untouched on error.
func DropToken(state *State, col int, side Side) (*State, error) {
	if col < 0 || col >= state.Board.Width {
		return nil, ErrOutOfBounds
	}
	if state.ColumnFull(col) {
		return nil, ErrColumnFull
	}
	next := state.Copy()
	for row := next.Board.Height - 1; row >= 0; row-- {
		if next.Board.at(col, row) == nil {
			v := side
			next.Board.Cells[row][col] = &v
			break
		}
	}
	next.NextSide = side.Other()
	return next, nil
}

// Vector is a directed, positioned line segment: Length cells starting at
// (X, Y) stepping by (Dx, Dy) per cell.
type Vector struct {
	X, Y   int
	Dx, Dy int
	Length int
}

// End returns the coordinates of the segment's final cell.
func (v Vector) End() (x, y int) {
	return v.X + v.Dx*(v.Length-1), v.Y + v.Dy*(v.Length-1)
}

// InBounds reports whether both endpoints of v lie within a W×H board.
// Because steps are unit vectors this also guarantees every intermediate
// cell is in bounds.
func (v Vector) InBounds(w, h int) bool {
	if v.X < 0 || v.X >= w || v.Y < 0 || v.Y >= h {
		return false
	}
	ex, ey := v.End()
	return ex >= 0 && ex < w && ey >= 0 && ey < h
}

// Extend grows v by left cells at its start and right cells at its end,
// moving X/Y backward along -Dx/-Dy and adding to Length.
func (v Vector) Extend(left, right int) Vector {
	return Vector{
		X:      v.X - v.Dx*left,
		Y:      v.Y - v.Dy*left,
		Dx:     v.Dx,
		Dy:     v.Dy,
		Length: v.Length + left + right,
	}
}

// Crop shortens v from its end, one cell at a time, until both endpoints
// fall within [0,w)×[0,h). The start cell never moves, so a vector whose
// start is out of bounds crops to Length 0. It is a no-op for vectors
// already InBounds.
func (v Vector) Crop(w, h int) Vector {
	for !v.InBounds(w, h) && v.Length > 0 {
		v.Length--
	}
	return v
}

// directions are the four line orientations the rules recognize; the
// fourth direction's mirror (e.g. (-1,1)) is covered implicitly by scanning
// every possible start cell rather than by also walking negative slopes.
var directions = []struct{ Dx, Dy int }{
	{1, 0},
	{0, 1},
	{1, 1},
	{1, -1},
}

// FindAllLines enumerates every length-length straight run belonging
// entirely to side, across all four directions.
func FindAllLines(state *State, length int, side Side) []Vector {
	b := state.Board
	var found []Vector
	for _, d := range directions {
		for y := 0; y < b.Height; y++ {
			for x := 0; x < b.Width; x++ {
				v := Vector{X: x, Y: y, Dx: d.Dx, Dy: d.Dy, Length: length}
				if !v.InBounds(b.Width, b.Height) {
					continue
				}
				if lineBelongsTo(b, v, side) {
					found = append(found, v)
				}
			}
		}
	}
	return found
}

func lineBelongsTo(b *Board, v Vector, side Side) bool {
	x, y := v.X, v.Y
	for i := 0; i < v.Length; i++ {
		cell := b.at(x, y)
		if cell == nil || *cell != side {
			return false
		}
		x += v.Dx
		y += v.Dy
	}
	return true
}

// Winners returns the sides that have won. A fully filled board is a tie
// and always returns both sides, even if one of them also has a 4-line —
// the tie check takes precedence over win detection.
func Winners(state *State) []Side {
	if boardFull(state.Board) {
		return []Side{Blue, Red}
	}
	var winners []Side
	for _, side := range []Side{Blue, Red} {
		if len(FindAllLines(state, LineLength, side)) > 0 {
			winners = append(winners, side)
		}
	}
	return winners
}

func boardFull(b *Board) bool {
	for _, row := range b.Cells {
		for _, cell := range row {
			if cell == nil {
				return false
			}
		}
	}
	return true
}
