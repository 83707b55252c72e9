package sandbox

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"lineup"
)

// writeFrame/readFrame speak a length-prefixed JSON envelope: a 4-byte
// big-endian length followed by that many bytes of JSON. This is the
// faithful, killable-on-timeout IPC spec.md §9 asks for in place of the
// teacher's in-process daemon-thread approach; both the Process and
// Docker backends use it over their respective stdio pipes.
func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r *bufio.Reader, v interface{}) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err
	}
	data := make([]byte, binary.BigEndian.Uint32(length[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

type initRequest struct {
	Code lineup.Code `json:"code"`
	Side lineup.Side `json:"side"`
}

type initResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

type moveRequest struct {
	State *lineup.State `json:"state"`
}

type moveResponse struct {
	Move  *int   `json:"move,omitempty"`
	Error string `json:"error,omitempty"`
}
