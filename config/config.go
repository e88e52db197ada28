package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"remotectl/link"
	"remotectl/logging"
	"remotectl/models"
	"remotectl/session"
	"remotectl/storage"
	"remotectl/transport"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "remotectl"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "REMOTECTL_DATA_DIR"

	DefaultConnectTimeoutMS = 15000
	DefaultWriteTimeoutMS   = 5000
	DefaultToggleDebounceMS = 300
	DefaultSendQueueSize    = 16
	DefaultHistoryDays      = 30
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"

	// Discovery sources accepted in discovery_sources.
	SourceMDNS  = "mdns"
	SourceBluez = "bluez"
	SourceBLE   = "ble"

	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	logFileName    = "remotectl.log"
)

// StaticPeer is a receiver listed by hand in config.json.
type StaticPeer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Config contains persistent controller settings.
type Config struct {
	ControllerID   string `json:"controller_id"`
	ControllerName string `json:"controller_name"`
	SelectedPeerID string `json:"selected_peer_id"`

	ConnectTimeoutMS int `json:"connect_timeout_ms"`
	WriteTimeoutMS   int `json:"write_timeout_ms"`
	// ToggleDebounceMS of -1 disables toggle debounce.
	ToggleDebounceMS  int `json:"toggle_debounce_ms"`
	CommandDebounceMS int `json:"command_debounce_ms"`
	SendQueueSize     int `json:"send_queue_size"`
	// HistoryRetentionDays bounds stored link events and command records.
	HistoryRetentionDays int `json:"history_retention_days"`

	ServiceUUID        string       `json:"service_uuid"`
	RFCOMMChannel      int          `json:"rfcomm_channel"`
	BluezAdapter       string       `json:"bluez_adapter"`
	BluezAddressScheme string       `json:"bluez_address_scheme"`
	DiscoverySources   []string     `json:"discovery_sources"`
	BLENamePrefixes    []string     `json:"ble_name_prefixes"`
	AllowUnpinnedQUIC  bool         `json:"allow_unpinned_quic"`
	StaticPeers        []StaticPeer `json:"static_peers,omitempty"`

	Ed25519PrivateKeyPath string `json:"ed25519_private_key_path"`
	Ed25519PublicKeyPath  string `json:"ed25519_public_key_path"`

	LogLevel   string   `json:"log_level"`
	LogFormat  string   `json:"log_format"`
	LogOutputs []string `json:"log_outputs"`
	LogRotate  bool     `json:"log_rotate"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If REMOTECTL_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
		filepath.Join(dataDir, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config,
// its path and the data directory.
func LoadOrCreate() (*Config, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
		return cfg, cfgPath, dataDir, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	}

	return cfg, cfgPath, dataDir, nil
}

func defaultConfig(dataDir string) *Config {
	cfg := &Config{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func defaultControllerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Remote Controller"
}

func normalizeDefaults(cfg *Config, dataDir string) bool {
	updated := false
	keysDir := filepath.Join(dataDir, "keys")

	setString := func(field *string, value string) {
		if strings.TrimSpace(*field) == "" {
			*field = value
			updated = true
		}
	}
	setInt := func(field *int, value int) {
		if *field <= 0 {
			*field = value
			updated = true
		}
	}

	setString(&cfg.ControllerID, uuid.NewString())
	setString(&cfg.ControllerName, defaultControllerName())
	setInt(&cfg.ConnectTimeoutMS, DefaultConnectTimeoutMS)
	setInt(&cfg.WriteTimeoutMS, DefaultWriteTimeoutMS)
	if cfg.ToggleDebounceMS == 0 || cfg.ToggleDebounceMS < -1 {
		cfg.ToggleDebounceMS = DefaultToggleDebounceMS
		updated = true
	}
	if cfg.CommandDebounceMS < 0 {
		cfg.CommandDebounceMS = 0
		updated = true
	}
	setInt(&cfg.SendQueueSize, DefaultSendQueueSize)
	setInt(&cfg.HistoryRetentionDays, DefaultHistoryDays)

	setString(&cfg.ServiceUUID, transport.DefaultServiceUUID)
	if cfg.RFCOMMChannel < 1 || cfg.RFCOMMChannel > 30 {
		cfg.RFCOMMChannel = int(transport.DefaultRFCOMMChannel)
		updated = true
	}
	setString(&cfg.BluezAdapter, transport.DefaultBluezAdapter)
	if scheme := normalizeBluezScheme(cfg.BluezAddressScheme); scheme != cfg.BluezAddressScheme {
		cfg.BluezAddressScheme = scheme
		updated = true
	}

	sources := normalizeSources(cfg.DiscoverySources)
	if !equalStrings(sources, cfg.DiscoverySources) {
		cfg.DiscoverySources = sources
		updated = true
	}

	setString(&cfg.Ed25519PrivateKeyPath, filepath.Join(keysDir, "ed25519_private.pem"))
	setString(&cfg.Ed25519PublicKeyPath, filepath.Join(keysDir, "ed25519_public.pem"))

	setString(&cfg.LogLevel, DefaultLogLevel)
	setString(&cfg.LogFormat, DefaultLogFormat)
	if len(cfg.LogOutputs) == 0 {
		cfg.LogOutputs = []string{"stderr", filepath.Join(dataDir, "logs", logFileName)}
		cfg.LogRotate = true
		updated = true
	}

	return updated
}

func normalizeBluezScheme(scheme string) string {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case transport.SchemeRFCOMM:
		return transport.SchemeRFCOMM
	default:
		return transport.SchemeBluez
	}
}

// normalizeSources lowercases, drops unknown names and duplicates, and falls
// back to bluez+mdns when nothing valid remains.
func normalizeSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, source := range sources {
		source = strings.ToLower(strings.TrimSpace(source))
		switch source {
		case SourceMDNS, SourceBluez, SourceBLE:
		default:
			continue
		}
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		out = append(out, source)
	}
	if len(out) == 0 {
		return []string{SourceBluez, SourceMDNS}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasSource reports whether a discovery source is enabled.
func (c *Config) HasSource(source string) bool {
	for _, s := range c.DiscoverySources {
		if s == source {
			return true
		}
	}
	return false
}

// WriteTimeout returns the per-write transport deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// HistoryRetention returns how long link and command history is kept.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// LinkOptions translates link settings for provider.
func (c *Config) LinkOptions(provider transport.Provider) link.Options {
	return link.Options{
		Provider:       provider,
		ConnectTimeout: time.Duration(c.ConnectTimeoutMS) * time.Millisecond,
		SendQueueSize:  c.SendQueueSize,
	}
}

// SessionOptions translates controller settings. Callbacks are left for the
// caller.
func (c *Config) SessionOptions(provider transport.Provider, store *storage.Store) session.Options {
	toggle := time.Duration(c.ToggleDebounceMS) * time.Millisecond
	if c.ToggleDebounceMS < 0 {
		toggle = -1
	}
	return session.Options{
		Link:            c.LinkOptions(provider),
		Store:           store,
		ToggleDebounce:  toggle,
		CommandDebounce: time.Duration(c.CommandDebounceMS) * time.Millisecond,
	}
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Outputs: append([]string(nil), c.LogOutputs...),
		Rotate:  c.LogRotate,
	}
}

// ManualPeers returns the static peers that carry an ID and address.
func (c *Config) ManualPeers() []models.Peer {
	out := make([]models.Peer, 0, len(c.StaticPeers))
	for _, sp := range c.StaticPeers {
		id := strings.TrimSpace(sp.ID)
		address := strings.TrimSpace(sp.Address)
		if id == "" || address == "" {
			continue
		}
		out = append(out, models.Peer{
			ID:      id,
			Name:    strings.TrimSpace(sp.Name),
			Address: address,
			Source:  models.SourceManual,
		})
	}
	return out
}
