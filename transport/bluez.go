package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
)

// DefaultServiceUUID is the serial-port service record peers listen on.
const DefaultServiceUUID = "04c6093b-0000-1000-8000-00805f9b34fb"

var (
	// ErrProviderClosed indicates Open on a closed BluezProvider.
	ErrProviderClosed = errors.New("transport: provider closed")
	// ErrConnectPending indicates a second Open for a device still connecting.
	ErrConnectPending = errors.New("transport: connect already pending for device")
)

var profilePathCounter uint64

// BluezProvider opens serial-port connections through BlueZ: it registers a
// client Profile1 object once, calls Device1.ConnectProfile and waits for
// BlueZ to hand over the socket through NewConnection. Addresses look like
// "bluez://AA:BB:CC:DD:EE:FF", "bluez://hci1/AA:BB:CC:DD:EE:FF" or
// "bluez:///org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
type BluezProvider struct {
	ServiceUUID  string
	Adapter      string
	WriteTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	bus     *dbus.Conn
	profile *clientProfile
	cleanup []func()
}

// NewBluezProvider returns a provider for serviceUUID; empty values use defaults.
func NewBluezProvider(serviceUUID, adapter string, writeTimeout time.Duration) *BluezProvider {
	if serviceUUID == "" {
		serviceUUID = DefaultServiceUUID
	}
	if adapter == "" {
		adapter = DefaultBluezAdapter
	}
	return &BluezProvider{ServiceUUID: serviceUUID, Adapter: adapter, WriteTimeout: writeTimeout}
}

// Open connects the service profile on the device and returns its socket.
func (p *BluezProvider) Open(ctx context.Context, address string) (Handle, error) {
	devicePath, err := splitBluezTarget(trimScheme(address, SchemeBluez), p.Adapter)
	if err != nil {
		return nil, err
	}

	bus, profile, err := p.ensureProfile()
	if err != nil {
		return nil, err
	}

	waiter, err := profile.expect(dbus.ObjectPath(devicePath))
	if err != nil {
		return nil, err
	}
	defer profile.forget(dbus.ObjectPath(devicePath))

	device := bus.Object(BluezService, dbus.ObjectPath(devicePath))
	if call := device.CallWithContext(ctx, BluezDeviceIface+".ConnectProfile", 0, p.ServiceUUID); call.Err != nil {
		return nil, fmt.Errorf("bluez ConnectProfile %s: %w", devicePath, call.Err)
	}

	select {
	case fd := <-waiter:
		file := os.NewFile(uintptr(fd), "bluez:"+devicePath)
		uuid := p.ServiceUUID
		h := NewStreamHandle(file, p.WriteTimeout).OnClose(func() error {
			if err := device.Call(BluezDeviceIface+".DisconnectProfile", 0, uuid).Err; err != nil {
				log.Printf("transport: bluez disconnect profile failed device=%s err=%v", devicePath, err)
			}
			return nil
		})
		return h, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("bluez connect %s: %w", devicePath, ctx.Err())
	}
}

// Close unregisters the profile and closes the system bus connection.
func (p *BluezProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cleanup := p.cleanup
	p.cleanup = nil
	p.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}

func (p *BluezProvider) ensureProfile() (*dbus.Conn, *clientProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrProviderClosed
	}
	if p.profile != nil {
		return p.bus, p.profile, nil
	}

	if p.bus == nil {
		bus, err := dbus.SystemBus()
		if err != nil {
			return nil, nil, fmt.Errorf("connect system bus: %w", err)
		}
		p.bus = bus
		p.cleanup = append(p.cleanup, func() { _ = bus.Close() })
	}

	profile := newClientProfile()
	id := atomic.AddUint64(&profilePathCounter, 1)
	path := dbus.ObjectPath("/org/remotectl/profile/client" + strconv.FormatUint(id, 10))
	if err := p.bus.Export(profile, path, BluezProfileIface); err != nil {
		return nil, nil, fmt.Errorf("export bluez profile: %w", err)
	}

	manager := p.bus.Object(BluezService, dbus.ObjectPath("/org/bluez"))
	options := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := manager.Call(BluezProfileManager+".RegisterProfile", 0, path, p.ServiceUUID, options); call.Err != nil {
		_ = p.bus.Export(nil, path, BluezProfileIface)
		return nil, nil, fmt.Errorf("register bluez profile: %w", call.Err)
	}

	bus := p.bus
	p.cleanup = append(p.cleanup, func() {
		_ = manager.Call(BluezProfileManager+".UnregisterProfile", 0, path).Err
		_ = bus.Export(nil, path, BluezProfileIface)
		profile.rejectAll()
	})
	p.profile = profile
	return p.bus, p.profile, nil
}

// clientProfile implements org.bluez.Profile1 and routes each incoming socket
// to the Open call waiting for that device.
type clientProfile struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

func newClientProfile() *clientProfile {
	return &clientProfile{waiters: make(map[dbus.ObjectPath]chan int)}
}

func (cp *clientProfile) expect(device dbus.ObjectPath) (<-chan int, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, exists := cp.waiters[device]; exists {
		return nil, ErrConnectPending
	}
	ch := make(chan int, 1)
	cp.waiters[device] = ch
	return ch, nil
}

// forget drops the waiter and closes a socket that arrived after Open gave up.
func (cp *clientProfile) forget(device dbus.ObjectPath) {
	cp.mu.Lock()
	ch := cp.waiters[device]
	delete(cp.waiters, device)
	cp.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case fd := <-ch:
		_ = os.NewFile(uintptr(fd), "bluez-late").Close()
	default:
	}
}

func (cp *clientProfile) rejectAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.waiters = make(map[dbus.ObjectPath]chan int)
}

// Release is called by BlueZ when the profile is unregistered.
func (cp *clientProfile) Release() *dbus.Error { return nil }

// Cancel is called when a pending request is aborted.
func (cp *clientProfile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is ignored; the link closes its own handle.
func (cp *clientProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection hands the socket to the waiting Open call, or closes it.
func (cp *clientProfile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	cp.mu.Lock()
	ch, ok := cp.waiters[device]
	cp.mu.Unlock()

	if ok {
		select {
		case ch <- int(fd):
			return nil
		default:
		}
	}

	_ = os.NewFile(uintptr(fd), "bluez-unexpected").Close()
	return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no pending connect"}}
}
