package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"remotectl/models"
	"remotectl/transport"
)

// DefaultDiscoveryWindow is how long one BlueZ inquiry runs.
const DefaultDiscoveryWindow = 12 * time.Second

// ErrRefreshInProgress indicates a Refresh while a discovery window is open.
var ErrRefreshInProgress = errors.New("discovery: refresh already in progress")

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BluezConfig controls the BlueZ scanner.
type BluezConfig struct {
	Adapter string
	// AddressScheme selects the transport discovered devices are dialled
	// with: transport.SchemeBluez or transport.SchemeRFCOMM.
	AddressScheme   string
	DiscoveryWindow time.Duration

	connectFn func() (*dbus.Conn, error)
}

func (c BluezConfig) withDefaults() BluezConfig {
	out := c
	if out.Adapter == "" {
		out.Adapter = transport.DefaultBluezAdapter
	}
	if out.AddressScheme != transport.SchemeRFCOMM {
		out.AddressScheme = transport.SchemeBluez
	}
	if out.DiscoveryWindow <= 0 {
		out.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if out.connectFn == nil {
		out.connectFn = func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }
	}
	return out
}

// BluezScanner lists bonded devices at start and reports devices found
// during discovery windows. Devices are deduplicated by address and name.
type BluezScanner struct {
	cfg BluezConfig

	conn    *dbus.Conn
	signals chan *dbus.Signal
	seen    *deviceSet
	events  chan Event

	startOnce  sync.Once
	stopOnce   sync.Once
	startErr   error
	refreshing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBluezScanner creates a scanner with config defaults applied.
func NewBluezScanner(config BluezConfig) *BluezScanner {
	return &BluezScanner{
		cfg:     config.withDefaults(),
		signals: make(chan *dbus.Signal, 32),
		seen:    newDeviceSet(),
		events:  make(chan Event, 128),
	}
}

// Name identifies the source in logs.
func (s *BluezScanner) Name() string { return models.SourceBluez }

// Events provides asynchronous discovery updates.
func (s *BluezScanner) Events() <-chan Event { return s.events }

// Start connects to the system bus, emits bonded devices and begins
// listening for devices BlueZ adds.
func (s *BluezScanner) Start() error {
	s.startOnce.Do(func() {
		conn, err := s.cfg.connectFn()
		if err != nil {
			s.startErr = fmt.Errorf("connect system bus: %w", err)
			return
		}
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(transport.ObjectManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		); err != nil {
			_ = conn.Close()
			s.startErr = fmt.Errorf("subscribe InterfacesAdded: %w", err)
			return
		}
		conn.Signal(s.signals)

		s.conn = conn
		s.ctx, s.cancel = context.WithCancel(context.Background())

		objects, err := s.managedObjects(s.ctx)
		if err != nil {
			log.Printf("discovery: bonded device listing failed adapter=%s err=%v", s.cfg.Adapter, err)
		} else {
			bonded := peersFromObjects(objects, s.cfg.Adapter, s.cfg.AddressScheme, isPaired)
			log.Printf("discovery: bonded devices adapter=%s count=%d", s.cfg.Adapter, len(bonded))
			for _, peer := range bonded {
				s.admit(peer)
			}
		}

		s.wg.Add(1)
		go s.listen()
	})
	return s.startErr
}

// Refresh runs one discovery window and reports devices BlueZ saw during it.
func (s *BluezScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return ErrNotStarted
	}
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer s.refreshing.Store(false)

	adapter := s.conn.Object(transport.BluezService, adapterPath(s.cfg.Adapter))
	if call := adapter.CallWithContext(ctx, transport.BluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("start discovery: %w", call.Err)
	}
	log.Printf("discovery: inquiry started adapter=%s window=%s", s.cfg.Adapter, s.cfg.DiscoveryWindow)

	window := time.NewTimer(s.cfg.DiscoveryWindow)
	defer window.Stop()

	var waitErr error
	select {
	case <-window.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-s.ctx.Done():
		waitErr = ErrStopped
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if call := adapter.CallWithContext(stopCtx, transport.BluezAdapterIface+".StopDiscovery", 0); call.Err != nil {
		log.Printf("discovery: stop inquiry failed adapter=%s err=%v", s.cfg.Adapter, call.Err)
	}
	if waitErr != nil {
		return waitErr
	}

	objects, err := s.managedObjects(stopCtx)
	if err != nil {
		return err
	}
	for _, peer := range peersFromObjects(objects, s.cfg.Adapter, s.cfg.AddressScheme, wasSeen) {
		s.admit(peer)
	}
	log.Printf("discovery: inquiry finished adapter=%s", s.cfg.Adapter)
	return nil
}

// Stop unsubscribes, closes the bus connection and closes Events.
func (s *BluezScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.conn != nil {
			s.conn.RemoveSignal(s.signals)
			_ = s.conn.RemoveMatchSignal(
				dbus.WithMatchInterface(transport.ObjectManagerIface),
				dbus.WithMatchMember("InterfacesAdded"),
			)
			_ = s.conn.Close()
		}
		close(s.events)
	})
}

func (s *BluezScanner) listen() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			if sig == nil || len(sig.Body) < 2 {
				continue
			}
			path, _ := sig.Body[0].(dbus.ObjectPath)
			ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
			props, ok := ifaces[transport.BluezDeviceIface]
			if !ok {
				continue
			}
			if peer, ok := deviceFromProperties(path, props, s.cfg.Adapter, s.cfg.AddressScheme); ok {
				s.admit(peer)
			}
		}
	}
}

func (s *BluezScanner) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	root := s.conn.Object(transport.BluezService, dbus.ObjectPath("/"))
	call := root.CallWithContext(ctx, transport.ObjectManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objects, nil
}

func (s *BluezScanner) admit(peer models.Peer) {
	if !s.seen.admit(peer) {
		return
	}
	peer.DiscoveredAt = time.Now().UnixMilli()
	log.Printf("discovery: bluetooth device peer=%s name=%q source=%s", peer.ID, peer.Name, peer.Source)
	select {
	case s.events <- Event{Type: EventPeerFound, Peer: peer}:
	default:
	}
}

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

func isPaired(props map[string]dbus.Variant) bool {
	paired, _ := variantValue[bool](props, "Paired")
	return paired
}

// wasSeen keeps devices with a live RSSI, which BlueZ only reports for
// devices heard during the current inquiry.
func wasSeen(props map[string]dbus.Variant) bool {
	_, ok := variantValue[int16](props, "RSSI")
	return ok
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	value, ok := v.Value().(T)
	return value, ok
}

// peersFromObjects returns the Device1 objects under adapter accepted by keep,
// ordered by object path.
func peersFromObjects(objects managedObjects, adapter, scheme string, keep func(map[string]dbus.Variant) bool) []models.Peer {
	paths := make([]string, 0, len(objects))
	for path := range objects {
		paths = append(paths, string(path))
	}
	sort.Strings(paths)

	out := make([]models.Peer, 0, len(paths))
	for _, path := range paths {
		props, ok := objects[dbus.ObjectPath(path)][transport.BluezDeviceIface]
		if !ok || (keep != nil && !keep(props)) {
			continue
		}
		if peer, ok := deviceFromProperties(dbus.ObjectPath(path), props, adapter, scheme); ok {
			out = append(out, peer)
		}
	}
	return out
}

// deviceFromProperties maps a Device1 property set to a peer addressed for
// scheme. Devices on other adapters are skipped.
func deviceFromProperties(path dbus.ObjectPath, props map[string]dbus.Variant, adapter, scheme string) (models.Peer, bool) {
	if !strings.HasPrefix(string(path), string(adapterPath(adapter))+"/") {
		return models.Peer{}, false
	}

	raw, _ := variantValue[string](props, "Address")
	if raw == "" {
		raw = transport.MACFromDevicePath(string(path))
	}
	mac, err := transport.ParseMAC(raw)
	if err != nil {
		return models.Peer{}, false
	}
	id := transport.FormatMAC(mac)

	name, _ := variantValue[string](props, "Alias")
	if strings.TrimSpace(name) == "" {
		name, _ = variantValue[string](props, "Name")
	}
	name = strings.TrimSpace(name)

	source := models.SourceBluez
	if isPaired(props) {
		source = models.SourceBonded
	}

	return models.Peer{
		ID:      id,
		Name:    name,
		Address: bluetoothAddress(adapter, scheme, id),
		Source:  source,
	}, true
}

// bluetoothAddress builds "bluez://adapter/MAC" or "rfcomm://MAC".
func bluetoothAddress(adapter, scheme, mac string) string {
	if scheme == transport.SchemeBluez {
		return transport.JoinAddress(scheme, adapter+"/"+mac)
	}
	return transport.JoinAddress(scheme, mac)
}

// deviceSet remembers admitted devices by address and by name.
type deviceSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	names map[string]struct{}
}

func newDeviceSet() *deviceSet {
	return &deviceSet{
		ids:   make(map[string]struct{}),
		names: make(map[string]struct{}),
	}
}

func (d *deviceSet) admit(peer models.Peer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.ids[peer.ID]; dup {
		return false
	}
	name := strings.ToLower(peer.Name)
	if name != "" {
		if _, dup := d.names[name]; dup {
			return false
		}
		d.names[name] = struct{}{}
	}
	d.ids[peer.ID] = struct{}{}
	return true
}
