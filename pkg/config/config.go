// Package config loads tutor-chat settings from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/tutorchat/pkg/framebus"
	"github.com/go-go-golems/tutorchat/pkg/transport"
)

var ErrInvalid = errors.New("invalid config")

const (
	TransportGorilla = "gorilla"
	TransportCoder   = "coder"
)

type Server struct {
	URLTemplate      string        `yaml:"url_template"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type Reconnect struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type Reducer struct {
	ReconcileFullText bool `yaml:"reconcile_full_text"`
}

type Protocol struct {
	InferUntypedStream bool `yaml:"infer_untyped_stream"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server    Server            `yaml:"server"`
	Reconnect Reconnect         `yaml:"reconnect"`
	Transport string            `yaml:"transport"`
	Reducer   Reducer           `yaml:"reducer"`
	Protocol  Protocol          `yaml:"protocol"`
	Redis     framebus.Settings `yaml:"redis"`
	Log       Log               `yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{
			URLTemplate:      transport.DefaultURLTemplate,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
		},
		Reconnect: Reconnect{
			MaxAttempts: transport.DefaultMaxAttempts,
			BaseDelay:   transport.DefaultBaseDelay,
			MaxDelay:    transport.DefaultMaxDelay,
		},
		Transport: TransportGorilla,
		Redis:     framebus.DefaultSettings(),
		Log:       Log{Level: "warn", Format: "auto"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := Parse(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set,
// and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c Config) Validate() error {
	if !strings.Contains(c.Server.URLTemplate, "{id}") {
		return errors.Wrapf(ErrInvalid, "server.url_template %q has no {id} placeholder", c.Server.URLTemplate)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.Wrap(ErrInvalid, "reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay <= 0 {
		return errors.Wrap(ErrInvalid, "reconnect delays must be positive")
	}
	switch c.Transport {
	case TransportGorilla, TransportCoder:
	default:
		return errors.Wrapf(ErrInvalid, "unknown transport %q", c.Transport)
	}
	return nil
}

// Backoff returns the reconnect schedule.
func (c Config) Backoff() transport.Backoff {
	return transport.Backoff{Base: c.Reconnect.BaseDelay, Max: c.Reconnect.MaxDelay}
}
