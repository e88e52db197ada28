package session

import (
	"fmt"

	"remotectl/link"
)

// Status lines shown to the user.
const (
	StatusDisconnected  = "Disconnected"
	StatusConnecting    = "Trying to open connection"
	StatusConnected     = "Connected"
	StatusDisconnecting = "Trying to close connection"
	StatusFailed        = "Device not connected"
)

var kindLabels = map[link.ErrorKind]string{
	link.KindBusy:         "busy",
	link.KindTransport:    "transport error",
	link.KindInvalidState: "invalid state",
}

// StatusText maps a link state to its status line. kind is only shown for
// StateFailed.
func StatusText(state link.State, kind link.ErrorKind) string {
	switch state {
	case link.StateConnecting:
		return StatusConnecting
	case link.StateConnected:
		return StatusConnected
	case link.StateDisconnecting:
		return StatusDisconnecting
	case link.StateFailed:
		if label, ok := kindLabels[kind]; ok {
			return fmt.Sprintf("%s (%s)", StatusFailed, label)
		}
		return StatusFailed
	default:
		return StatusDisconnected
	}
}
