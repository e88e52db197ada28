package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/therecipe/qt/core"

	"remotectl/link"
	"remotectl/models"
	"remotectl/session"
)

func toggleLabel(state link.State) string {
	switch state {
	case link.StateConnected:
		return "Disconnect"
	case link.StateConnecting:
		return "Connecting..."
	case link.StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Connect"
	}
}

// toggleEnabled is false while the link is between stable states; the
// session ignores presses there anyway.
func toggleEnabled(state link.State) bool {
	return state != link.StateConnecting && state != link.StateDisconnecting
}

func commandsEnabled(state link.State) bool {
	return state == link.StateConnected
}

func statusColor(state link.State) string {
	switch state {
	case link.StateConnected:
		return colorGreen
	case link.StateConnecting, link.StateDisconnecting:
		return colorYellow
	case link.StateFailed:
		return colorRed
	default:
		return colorSubtext0
	}
}

func peerLabel(peer models.Peer) string {
	name := strings.TrimSpace(peer.DisplayName())
	if peer.Source == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, peer.Source)
}

// keyCommand maps hardware keys to commands: volume down and the left arrow
// move left, volume up and the right arrow move right.
func keyCommand(key core.Qt__Key) (link.Command, bool) {
	switch key {
	case core.Qt__Key_VolumeDown, core.Qt__Key_Left:
		return link.MoveLeft, true
	case core.Qt__Key_VolumeUp, core.Qt__Key_Right:
		return link.MoveRight, true
	default:
		return 0, false
	}
}

func toggleErrorNotice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNoPeerSelected):
		return "Select a device first"
	case errors.Is(err, session.ErrUnknownPeer):
		return "Selected device is no longer available"
	default:
		return fmt.Sprintf("Could not connect: %v", err)
	}
}

func selectedIndex(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}
