package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when LADDER_CONFIG is unset.
const DefaultPath = "ladder.yaml"

// Transport kinds.
const (
	TransportMemory    = "memory"
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Timings tune the client's debounce and readiness behaviour.
type Timings struct {
	StatePublishDelay time.Duration `yaml:"state_publish_delay"`
	NotesPublishDelay time.Duration `yaml:"notes_publish_delay"`
	EchoGuard         time.Duration `yaml:"echo_guard"`
	ReadyFallback     time.Duration `yaml:"ready_fallback"`
}

// Config is the client configuration.
type Config struct {
	Transport     string  `yaml:"transport"`
	RelayURL      string  `yaml:"relay_url"`
	NATSURL       string  `yaml:"nats_url"`
	DeploymentURL string  `yaml:"deployment_url"`
	PrefsPath     string  `yaml:"prefs_path"`
	AutoAdvance   bool    `yaml:"auto_advance"`
	Timings       Timings `yaml:"timings"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Transport:     TransportWebSocket,
		RelayURL:      "ws://localhost:8090/ws",
		DeploymentURL: "http://localhost",
		PrefsPath:     "ladder-prefs.db",
		AutoAdvance:   true,
		Timings: Timings{
			StatePublishDelay: 50 * time.Millisecond,
			NotesPublishDelay: 300 * time.Millisecond,
			EchoGuard:         600 * time.Millisecond,
			ReadyFallback:     4 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path means LADDER_CONFIG or DefaultPath;
// a missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = getEnv("LADDER_CONFIG", DefaultPath)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Transport = getEnv("LADDER_TRANSPORT", c.Transport)
	c.RelayURL = getEnv("LADDER_RELAY_URL", c.RelayURL)
	c.NATSURL = getEnv("LADDER_NATS_URL", c.NATSURL)
	c.DeploymentURL = getEnv("LADDER_DEPLOYMENT_URL", c.DeploymentURL)
	c.PrefsPath = getEnv("LADDER_PREFS_PATH", c.PrefsPath)
	c.AutoAdvance = getEnvAsBool("LADDER_AUTO_ADVANCE", c.AutoAdvance)
	c.Timings.ReadyFallback = getEnvAsDuration("LADDER_READY_FALLBACK", c.Timings.ReadyFallback)
}

// Validate rejects configurations no transport can run with. Missing URLs
// are allowed: the session then runs locally after the ready fallback.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportMemory, TransportWebSocket, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	for name, d := range map[string]time.Duration{
		"state_publish_delay": c.Timings.StatePublishDelay,
		"notes_publish_delay": c.Timings.NotesPublishDelay,
		"echo_guard":          c.Timings.EchoGuard,
		"ready_fallback":      c.Timings.ReadyFallback,
	} {
		if d < 0 {
			return fmt.Errorf("timings.%s must not be negative", name)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid boolean")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}
