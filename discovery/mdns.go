package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_remotectl._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background browse interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each browse.
	DefaultScanTimeout = 3 * time.Second

	txtID          = "id"
	txtVersion     = "version"
	txtQUICPort    = "quic_port"
	txtFingerprint = "fp"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the receiver broadcaster and the controller scanner.
type MDNSConfig struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	// SelfID is advertised by a broadcaster and skipped by a scanner.
	SelfID       string
	InstanceName string
	// TCPPort is the service port. QUICPort and Fingerprint are optional.
	TCPPort     int
	QUICPort    int
	Fingerprint string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c MDNSConfig) validateForBroadcast() error {
	if strings.TrimSpace(c.SelfID) == "" {
		return errors.New("self ID is required")
	}
	if strings.TrimSpace(c.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if c.TCPPort <= 0 {
		return errors.New("tcp port must be > 0")
	}
	if c.QUICPort < 0 {
		return errors.New("quic port must be >= 0")
	}
	return nil
}

// Broadcaster advertises a receiver via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast.
func StartBroadcaster(config MDNSConfig) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.TCPPort, broadcastTXT(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

func broadcastTXT(cfg MDNSConfig) []string {
	txt := []string{
		txtID + "=" + cfg.SelfID,
		txtVersion + "=" + strconv.Itoa(cfg.Version),
	}
	if cfg.QUICPort > 0 {
		txt = append(txt, txtQUICPort+"="+strconv.Itoa(cfg.QUICPort))
	}
	if cfg.Fingerprint != "" {
		txt = append(txt, txtFingerprint+"="+cfg.Fingerprint)
	}
	return txt
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}
