package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Command is one control instruction sent to the peer.
type Command uint32

const (
	MoveRight Command = 1
	MoveLeft  Command = 2
)

// CommandSize is the encoded size of every command on the wire.
const CommandSize = 4

var (
	// ErrUnknownCommand indicates a value outside the command set.
	ErrUnknownCommand = errors.New("link: unknown command")
	// ErrShortCommand indicates a buffer that is not exactly CommandSize bytes.
	ErrShortCommand = errors.New("link: command must be 4 bytes")
)

// Valid reports whether c belongs to the command set.
func (c Command) Valid() bool {
	return c == MoveLeft || c == MoveRight
}

func (c Command) String() string {
	switch c {
	case MoveLeft:
		return "left"
	case MoveRight:
		return "right"
	default:
		return fmt.Sprintf("command(%d)", uint32(c))
	}
}

// ParseCommand accepts "left"/"l" and "right"/"r" in any case.
func ParseCommand(value string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left", "l":
		return MoveLeft, nil
	case "right", "r":
		return MoveRight, nil
	default:
		return 0, fmt.Errorf("parse command %q: %w", value, ErrUnknownCommand)
	}
}

// Encode returns the 4-byte big-endian wire form of c.
func Encode(c Command) ([]byte, error) {
	if !c.Valid() {
		return nil, ErrUnknownCommand
	}

	payload := make([]byte, CommandSize)
	binary.BigEndian.PutUint32(payload, uint32(c))
	return payload, nil
}

// Decode parses one encoded command. Unknown values are returned together
// with ErrUnknownCommand so receivers can log them.
func Decode(payload []byte) (Command, error) {
	if len(payload) != CommandSize {
		return 0, ErrShortCommand
	}

	c := Command(binary.BigEndian.Uint32(payload))
	if !c.Valid() {
		return c, ErrUnknownCommand
	}
	return c, nil
}

// WriteCommand writes one encoded command to w.
func WriteCommand(w io.Writer, c Command) error {
	payload, err := Encode(c)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// ReadCommand reads exactly one command from r.
func ReadCommand(r io.Reader) (Command, error) {
	payload := make([]byte, CommandSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, fmt.Errorf("read command: %w", err)
	}
	return Decode(payload)
}
