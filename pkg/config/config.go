// Package config loads client settings from a YAML file with environment
// overrides. A missing file is not an error; defaults apply.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings is the full client configuration.
type Settings struct {
	Server ServerSettings `yaml:"server"`
	Socket SocketSettings `yaml:"socket"`
	Redis  RedisSettings  `yaml:"redis"`
	Typing TypingSettings `yaml:"typing"`
	State  StateSettings  `yaml:"state"`

	LogLevel string `yaml:"logLevel"`
}

type ServerSettings struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

type SocketSettings struct {
	URL              string            `yaml:"url"`
	HandshakeTimeout time.Duration     `yaml:"handshakeTimeout"`
	Reconnect        ReconnectSettings `yaml:"reconnect"`
}

type ReconnectSettings struct {
	Enabled     bool          `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type TypingSettings struct {
	Window time.Duration `yaml:"window"`
}

type StateSettings struct {
	Path string `yaml:"path"` // empty means in-memory only
}

// Defaults returns the baseline settings for a local backend.
func Defaults() Settings {
	return Settings{
		Server: ServerSettings{
			BaseURL: "http://localhost:5001",
			Timeout: 15 * time.Second,
		},
		Socket: SocketSettings{
			URL:              "ws://localhost:5001/ws",
			HandshakeTimeout: 10 * time.Second,
			Reconnect: ReconnectSettings{
				Enabled:   true,
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  30 * time.Second,
				Jitter:    0.2,
			},
		},
		Redis: RedisSettings{
			Addr:     "localhost:6379",
			Group:    "views",
			Consumer: "openline",
		},
		Typing:   TypingSettings{Window: 3 * time.Second},
		LogLevel: "info",
	}
}

// Load reads settings from path layered over Defaults, then applies
// environment overrides. An empty path or a missing file yields defaults
// plus environment.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return Settings{}, errors.Wrapf(err, "read config %s", path)
		default:
			if err := yaml.Unmarshal(raw, &s); err != nil {
				return Settings{}, errors.Wrapf(err, "parse config %s", path)
			}
		}
	}
	s.applyEnv()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Environment overrides, highest precedence.
const (
	EnvServerURL    = "OPENLINE_SERVER_URL"
	EnvSocketURL    = "OPENLINE_SOCKET_URL"
	EnvRedisEnabled = "OPENLINE_REDIS_ENABLED"
	EnvRedisAddr    = "OPENLINE_REDIS_ADDR"
	EnvStatePath    = "OPENLINE_STATE_PATH"
	EnvLogLevel     = "OPENLINE_LOG_LEVEL"
)

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		s.Server.BaseURL = v
	}
	if v := os.Getenv(EnvSocketURL); v != "" {
		s.Socket.URL = v
	}
	if v := os.Getenv(EnvRedisEnabled); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			s.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		s.Redis.Addr = v
	}
	if v := os.Getenv(EnvStatePath); v != "" {
		s.State.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
}

// Validate rejects settings the client cannot run with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.BaseURL) == "" {
		return errors.New("server.baseUrl is empty")
	}
	if strings.TrimSpace(s.Socket.URL) == "" {
		return errors.New("socket.url is empty")
	}
	if s.Typing.Window < 0 {
		return errors.New("typing.window must not be negative")
	}
	if s.Redis.Enabled && strings.TrimSpace(s.Redis.Addr) == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}
