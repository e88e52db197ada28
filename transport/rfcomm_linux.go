//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultRFCOMMChannel is used when the address carries no channel.
const DefaultRFCOMMChannel uint8 = 1

// RFCOMMProvider opens raw RFCOMM sockets, addressed as
// "rfcomm://AA:BB:CC:DD:EE:FF" or "rfcomm://AA:BB:CC:DD:EE:FF/<channel>".
type RFCOMMProvider struct {
	Channel      uint8
	WriteTimeout time.Duration
}

// Open connects a non-blocking socket and waits for completion until ctx ends.
func (p RFCOMMProvider) Open(ctx context.Context, address string) (Handle, error) {
	target := trimScheme(address, SchemeRFCOMM)
	mac, channel, err := parseRFCOMMTarget(target, p.Channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	// The kernel expects the bdaddr in little-endian byte order.
	var addr [6]uint8
	for i := range mac {
		addr[i] = mac[len(mac)-1-i]
	}

	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: channel})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s: %w", target, err)
	}
	if err != nil {
		if err := waitConnected(ctx, fd); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm connect %s: %w", target, err)
		}
	}

	file := os.NewFile(uintptr(fd), "rfcomm:"+target)
	return NewStreamHandle(file, p.WriteTimeout), nil
}

func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("getsockopt: %w", err)
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

func parseRFCOMMTarget(target string, defaultChannel uint8) ([6]byte, uint8, error) {
	channel := defaultChannel
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}

	macText := target
	if before, after, ok := strings.Cut(target, "/"); ok {
		value, err := strconv.ParseUint(after, 10, 8)
		if err != nil || value == 0 || value > 30 {
			return [6]byte{}, 0, fmt.Errorf("%w: rfcomm channel %q", ErrInvalidAddress, after)
		}
		macText, channel = before, uint8(value)
	}

	mac, err := ParseMAC(macText)
	if err != nil {
		return [6]byte{}, 0, err
	}
	return mac, channel, nil
}
