//go:build linux

package transport

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

func dupPipeFD(t *testing.T) (int, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	fd, err := unix.Dup(int(w.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	return fd, r
}

func TestClientProfileRoutesSocketToWaiter(t *testing.T) {
	profile := newClientProfile()
	device := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	waiter, err := profile.expect(device)
	if err != nil {
		t.Fatalf("expect failed: %v", err)
	}
	if _, err := profile.expect(device); !errors.Is(err, ErrConnectPending) {
		t.Fatalf("expected ErrConnectPending for a second waiter, got %v", err)
	}

	fd, _ := dupPipeFD(t)
	if dbusErr := profile.NewConnection(device, dbus.UnixFD(fd), nil); dbusErr != nil {
		t.Fatalf("expected socket accepted, got %v", dbusErr)
	}
	select {
	case got := <-waiter:
		if got != fd {
			t.Fatalf("expected fd %d, got %d", fd, got)
		}
		_ = unix.Close(got)
	default:
		t.Fatalf("expected fd delivered to the waiter")
	}

	profile.forget(device)
	if _, err := profile.expect(device); err != nil {
		t.Fatalf("expected device free after forget, got %v", err)
	}
}

func TestClientProfileRejectsUnexpectedSocket(t *testing.T) {
	profile := newClientProfile()
	fd, _ := dupPipeFD(t)

	dbusErr := profile.NewConnection("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", dbus.UnixFD(fd), nil)
	if dbusErr == nil || dbusErr.Name != "org.bluez.Error.Rejected" {
		t.Fatalf("expected rejection, got %v", dbusErr)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err == nil {
		t.Fatalf("expected rejected socket to be closed")
	}
}

func TestClientProfileForgetClosesLateSocket(t *testing.T) {
	profile := newClientProfile()
	device := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_01")
	if _, err := profile.expect(device); err != nil {
		t.Fatalf("expect failed: %v", err)
	}

	fd, _ := dupPipeFD(t)
	if dbusErr := profile.NewConnection(device, dbus.UnixFD(fd), nil); dbusErr != nil {
		t.Fatalf("expected socket accepted, got %v", dbusErr)
	}
	profile.forget(device)

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err == nil {
		t.Fatalf("expected late socket to be closed by forget")
	}
}

func TestBluezProviderRejectsInvalidAddressAndClosed(t *testing.T) {
	provider := NewBluezProvider("", "", 0)
	if provider.ServiceUUID != DefaultServiceUUID || provider.Adapter != DefaultBluezAdapter {
		t.Fatalf("expected defaults, got %q %q", provider.ServiceUUID, provider.Adapter)
	}

	if _, err := provider.Open(context.Background(), "bluez://nope"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	if err := provider.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := provider.Open(context.Background(), "bluez://AA:BB:CC:DD:EE:FF"); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
