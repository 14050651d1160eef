// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Layered configuration: built-in defaults, an optional JSON file, then
// WSREACTOR_* environment variables. Command-line flags are applied on top
// by the caller.

package control

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "wsreactor"

// Log formats accepted in Config.LogFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Duration is a time.Duration that reads "250ms" style strings from JSON and
// the environment. Plain JSON numbers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return errors.Wrap(err, "invalid duration string")
		}
		return d.UnmarshalText([]byte(s))
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the server configuration.
type Config struct {
	Addr    string `envconfig:"addr" json:"addr"`
	Backlog int    `envconfig:"backlog" json:"backlog"`

	MaxFramePayload int64 `envconfig:"max_frame_payload" json:"max_frame_payload"`
	ReadBufferSize  int   `envconfig:"read_buffer_size" json:"read_buffer_size"`

	MaxEvents    int      `envconfig:"max_events" json:"max_events"`
	PollInterval Duration `envconfig:"poll_interval" json:"poll_interval"`
	// IdleTimeout of zero keeps idle connections forever.
	IdleTimeout Duration `envconfig:"idle_timeout" json:"idle_timeout"`

	LogLevel  string `envconfig:"log_level" json:"log_level"`
	LogFormat string `envconfig:"log_format" json:"log_format"`

	// MetricsAddr enables the metrics and debug HTTP endpoint when set.
	MetricsAddr string `envconfig:"metrics_addr" json:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            "0.0.0.0:10000",
		Backlog:         1024,
		MaxFramePayload: 1 << 20,
		ReadBufferSize:  16 * 1024,
		MaxEvents:       1024,
		PollInterval:    Duration(100 * time.Millisecond),
		LogLevel:        "info",
		LogFormat:       LogFormatText,
	}
}

// Load builds the configuration from defaults, the JSON file at path (when
// path is not empty) and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the JSON file at path. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()
	return errors.Wrapf(c.Decode(f), "config file %s", path)
}

// Decode overlays JSON read from r.
func (c *Config) Decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := sonnet.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "parse config JSON")
	}
	return nil
}

// LoadEnv overlays WSREACTOR_* environment variables. Unset variables leave
// the current values alone.
func (c *Config) LoadEnv() error {
	return errors.Wrap(envconfig.Process(EnvPrefix, c), "read environment")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr must not be empty")
	case c.Backlog < 0:
		return errors.Errorf("backlog must not be negative, got %d", c.Backlog)
	case c.MaxFramePayload < 0:
		return errors.Errorf("max_frame_payload must not be negative, got %d", c.MaxFramePayload)
	case c.ReadBufferSize <= 0:
		return errors.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	case c.MaxEvents <= 0:
		return errors.Errorf("max_events must be positive, got %d", c.MaxEvents)
	case c.PollInterval <= 0:
		return errors.Errorf("poll_interval must be positive, got %s", c.PollInterval.Std())
	case c.IdleTimeout < 0:
		return errors.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout.Std())
	case c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON:
		return errors.Errorf("log_format must be %q or %q, got %q", LogFormatText, LogFormatJSON, c.LogFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}
