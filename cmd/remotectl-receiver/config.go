package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"remotectl/logging"
)

const (
	envPrefix         = "REMOTECTL_RECEIVER"
	configName        = "receiver"
	defaultTCPListen  = ":7000"
	defaultQUICListen = ":7001"
)

// receiverConfig is loaded from receiver.yaml and REMOTECTL_RECEIVER_* variables.
type receiverConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`

	// TCPListen is required; QUICListen may be empty to disable QUIC.
	TCPListen  string `mapstructure:"tcp_listen"`
	QUICListen string `mapstructure:"quic_listen"`
	Advertise  bool   `mapstructure:"advertise"`
	KeyDir     string `mapstructure:"key_dir"`

	Log receiverLogConfig `mapstructure:"log"`
}

type receiverLogConfig struct {
	Level   string   `mapstructure:"level"`
	Format  string   `mapstructure:"format"`
	Outputs []string `mapstructure:"outputs"`
	Rotate  bool     `mapstructure:"rotate"`
}

func defaultReceiverConfig() *receiverConfig {
	name := "remotectl receiver"
	if host, err := os.Hostname(); err == nil && host != "" {
		name = host
	}
	return &receiverConfig{
		Name:       name,
		TCPListen:  defaultTCPListen,
		QUICListen: defaultQUICListen,
		Advertise:  true,
		KeyDir:     "keys",
		Log: receiverLogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
		},
	}
}

// loadReceiverConfig reads path when set, otherwise receiver.yaml from the
// working directory or ~/.remotectl. A missing file is not an error.
func loadReceiverConfig(path string) (*receiverConfig, error) {
	cfg := defaultReceiverConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("id", cfg.ID)
	v.SetDefault("name", cfg.Name)
	v.SetDefault("tcp_listen", cfg.TCPListen)
	v.SetDefault("quic_listen", cfg.QUICListen)
	v.SetDefault("advertise", cfg.Advertise)
	v.SetDefault("key_dir", cfg.KeyDir)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotate", cfg.Log.Rotate)

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".remotectl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *receiverConfig) validate() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = c.ID
	}
	if strings.TrimSpace(c.TCPListen) == "" {
		return errors.New("tcp_listen is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	return nil
}

func (c *receiverConfig) logConfig() logging.Config {
	return logging.Config{
		Level:   c.Log.Level,
		Format:  c.Log.Format,
		Outputs: c.Log.Outputs,
		Rotate:  c.Log.Rotate,
	}
}

func (c *receiverConfig) keyPaths() (string, string) {
	return filepath.Join(c.KeyDir, "ed25519_private.pem"), filepath.Join(c.KeyDir, "ed25519_public.pem")
}
