package db

import (
	"encoding/json"

	"lineup"
)

// EncodeState renders s as the {board, next_side} JSON shape (lineup.State's
// own MarshalJSON) used both in the states.board column and on the wire.
func EncodeState(s *lineup.State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses the {board, next_side} JSON shape back into a State.
// decode(encode(state)) == state for every reachable State (spec.md §8).
func DecodeState(data []byte) (*lineup.State, error) {
	var s lineup.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
