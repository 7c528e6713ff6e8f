// Package wire encodes the compact sideband notices exchanged between a
// follower and the authority. The format is length-prefixed strings and
// big-endian integers so game plugins on other stacks can speak it with
// their native data-stream primitives.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Action tags carried in the first field of every notice.
const (
	ActionJoin  = "PLAYER_JOIN"
	ActionLeave = "PLAYER_LEAVE"
)

// Notice is one relayed connection event.
type Notice struct {
	Action     string
	PlayerName string
	PlayerID   uuid.UUID
	Origin     string // process name the event was observed on
}

// Valid reports whether the action tag is one we dispatch on.
func (n Notice) Valid() bool {
	return n.Action == ActionJoin || n.Action == ActionLeave
}

// Encode serializes a notice. Layout:
//
//	utf(action) utf(playerName) u64(uuid high) u64(uuid low) utf(origin)
//
// where utf is a u16 big-endian byte length followed by UTF-8 bytes.
func Encode(n Notice) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, n.Action); err != nil {
		return nil, err
	}
	if err := writeString(&buf, n.PlayerName); err != nil {
		return nil, err
	}
	id := n.PlayerID
	buf.Write(id[:8])
	buf.Write(id[8:])
	if err := writeString(&buf, n.Origin); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a notice, rejecting truncated or oversized fields. Trailing
// bytes after the last field are an error; a framed datagram carries exactly
// one notice.
func Decode(data []byte) (Notice, error) {
	var n Notice
	rest := data

	var err error
	if n.Action, rest, err = readString(rest); err != nil {
		return Notice{}, fmt.Errorf("action: %w", err)
	}
	if n.PlayerName, rest, err = readString(rest); err != nil {
		return Notice{}, fmt.Errorf("player name: %w", err)
	}
	if len(rest) < 16 {
		return Notice{}, fmt.Errorf("uuid: need 16 bytes, have %d", len(rest))
	}
	copy(n.PlayerID[:], rest[:16])
	rest = rest[16:]
	if n.Origin, rest, err = readString(rest); err != nil {
		return Notice{}, fmt.Errorf("origin: %w", err)
	}
	if len(rest) != 0 {
		return Notice{}, fmt.Errorf("%d trailing bytes", len(rest))
	}
	return n, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string field too long: %d bytes", len(s))
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
	return nil
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, fmt.Errorf("declared %d bytes, have %d", n, len(data))
	}
	return string(data[:n]), data[n:], nil
}
