package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestStartBroadcasterBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := MDNSConfig{
		SelfID:       "receiver-123",
		InstanceName: "Living Room",
		TCPPort:      7000,
		QUICPort:     7001,
		Fingerprint:  "0123456789abcdef0123456789abcdef",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		t.Fatalf("StartBroadcaster failed: %v", err)
	}
	if broadcaster == nil {
		t.Fatalf("expected broadcaster instance")
	}
	broadcaster.Stop()

	if gotInstance != "Living Room" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 7000 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	assertContainsTXT(t, gotTXT, "id=receiver-123")
	assertContainsTXT(t, gotTXT, "version=1")
	assertContainsTXT(t, gotTXT, "quic_port=7001")
	assertContainsTXT(t, gotTXT, "fp=0123456789abcdef0123456789abcdef")
}

func TestStartBroadcasterOmitsOptionalQUICRecords(t *testing.T) {
	var gotTXT []string
	cfg := MDNSConfig{
		SelfID:       "receiver-123",
		InstanceName: "Desk",
		TCPPort:      7000,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	if _, err := StartBroadcaster(cfg); err != nil {
		t.Fatalf("StartBroadcaster failed: %v", err)
	}
	for _, entry := range gotTXT {
		if strings.HasPrefix(entry, "quic_port=") || strings.HasPrefix(entry, "fp=") {
			t.Fatalf("expected no QUIC TXT records, got %v", gotTXT)
		}
	}
}

func TestStartBroadcasterValidatesConfig(t *testing.T) {
	register := func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		t.Fatalf("register should not be called for invalid config")
		return nil, nil
	}

	invalid := []MDNSConfig{
		{InstanceName: "Desk", TCPPort: 7000, registerFn: register},
		{SelfID: "r1", TCPPort: 7000, registerFn: register},
		{SelfID: "r1", InstanceName: "Desk", registerFn: register},
		{SelfID: "r1", InstanceName: "Desk", TCPPort: 7000, QUICPort: -1, registerFn: register},
	}
	for i, cfg := range invalid {
		if _, err := StartBroadcaster(cfg); err == nil {
			t.Fatalf("expected validation error for case %d", i)
		}
	}
}

func TestMDNSConfigWithDefaults(t *testing.T) {
	cfg := MDNSConfig{}.withDefaults()
	if cfg.Service != DefaultService || cfg.Domain != DefaultDomain {
		t.Fatalf("expected default service and domain, got %q %q", cfg.Service, cfg.Domain)
	}
	if cfg.RefreshInterval != DefaultRefreshInterval || cfg.ScanTimeout != DefaultScanTimeout {
		t.Fatalf("unexpected default intervals: %v %v", cfg.RefreshInterval, cfg.ScanTimeout)
	}
	if cfg.registerFn == nil {
		t.Fatalf("expected default register function")
	}
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, entry := range txt {
		if entry == expected {
			return
		}
	}
	t.Fatalf("expected TXT record %q in %v", expected, txt)
}
