// Package config loads the daemon configuration. Values start from
// Default, a YAML file overrides them, and the daemon's flags and
// environment override both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mixdeck-audio/mixdeck-go/pkg/ipc"
	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/session"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// Config is the root daemon configuration.
type Config struct {
	Socket   SocketConfig   `yaml:"socket"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Logging  LoggingConfig  `yaml:"logging"`
	EventLog EventLogConfig `yaml:"event_log"`
	Session  SessionConfig  `yaml:"session"`
	Manager  ManagerConfig  `yaml:"manager"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Simulate SimulateConfig `yaml:"simulate"`
}

// SocketConfig contains the IPC listener settings.
type SocketConfig struct {
	// Path is the unix socket the daemon listens on.
	Path string `yaml:"path"`

	// MaxFrame caps IPC frame sizes in bytes.
	MaxFrame int `yaml:"max_frame"`

	// RequestTimeout bounds the device round trip behind one request.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ProfilesConfig contains profile persistence settings.
type ProfilesConfig struct {
	// Dir is where per-device profiles are stored. Empty disables
	// persistence; devices then adopt their own state on every attach.
	Dir string `yaml:"dir"`
}

// LoggingConfig contains application log settings.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// File, when Path is set, mirrors the log into a rotating file.
	File FileConfig `yaml:"file"`
}

// FileConfig contains rotating log file settings.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// EventLogConfig contains protocol event capture settings.
type EventLogConfig struct {
	// Path is the CBOR capture file. Empty disables capture.
	Path string `yaml:"path"`

	// Console additionally mirrors capture events into the
	// application log at debug level.
	Console bool `yaml:"console"`
}

// SessionConfig contains per-device command and poll policy.
type SessionConfig struct {
	// CommandTimeout bounds one command attempt, send to ack.
	CommandTimeout Duration `yaml:"command_timeout"`

	// CommandRetries is the number of resends after a timeout.
	CommandRetries int `yaml:"command_retries"`

	// RetryBackoff is the delay before the first resend; it doubles
	// per attempt with jitter.
	RetryBackoff Duration `yaml:"retry_backoff"`

	// PollInterval is the spacing of full state polls.
	PollInterval Duration `yaml:"poll_interval"`

	// PollFailLimit is the number of consecutive failed polls that
	// degrade a session.
	PollFailLimit int `yaml:"poll_fail_limit"`
}

// ManagerConfig contains device tracking policy.
type ManagerConfig struct {
	// RescanInterval is the bus enumeration cadence.
	RescanInterval Duration `yaml:"rescan_interval"`

	// GracePeriod is how long a lost device is retained for a fast
	// reconnect before its state is dropped.
	GracePeriod Duration `yaml:"grace_period"`
}

// MQTTConfig contains the optional MQTT bridge settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Prefix is the topic root, e.g. "mixdeck" publishes device state
	// under mixdeck/<serial>/state/<path>.
	Prefix string `yaml:"prefix"`

	// QoS applies to every publish and subscription.
	QoS int `yaml:"qos"`
}

// SimulateConfig runs the daemon against simulated hardware.
type SimulateConfig struct {
	Enabled bool        `yaml:"enabled"`
	Devices []SimDevice `yaml:"devices"`
}

// SimDevice describes one simulated device.
type SimDevice struct {
	Serial string `yaml:"serial"`
	Kind   string `yaml:"kind"`
}

// Default returns the configuration the daemon runs with when no file
// is given.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:           ipc.DefaultSocketPath,
			MaxFrame:       ipc.DefaultMaxFrame,
			RequestTimeout: Duration(ipc.DefaultRequestTimeout),
		},
		Profiles: ProfilesConfig{
			Dir: defaultProfileDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			CommandTimeout: Duration(session.DefaultCommandTimeout),
			CommandRetries: session.DefaultRetries,
			RetryBackoff:   Duration(session.InitialRetryDelay),
			PollInterval:   Duration(session.DefaultPollInterval),
			PollFailLimit:  session.DefaultPollFailLimit,
		},
		Manager: ManagerConfig{
			RescanInterval: Duration(manager.DefaultRescanInterval),
			GracePeriod:    Duration(manager.DefaultGracePeriod),
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "mixdeckd",
			Prefix:   "mixdeck",
			QoS:      1,
		},
	}
}

func defaultProfileDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "mixdeck", "profiles")
	}
	return filepath.Join(base, "mixdeck", "profiles")
}

// Load reads a YAML configuration file over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Socket.Path == "" {
		errs = append(errs, "socket.path is required")
	}
	if c.Socket.MaxFrame < 4096 {
		errs = append(errs, "socket.max_frame must be at least 4096")
	}
	if c.Socket.RequestTimeout <= 0 {
		errs = append(errs, "socket.request_timeout must be positive")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if c.Session.CommandTimeout <= 0 {
		errs = append(errs, "session.command_timeout must be positive")
	}
	if c.Session.CommandRetries < 0 {
		errs = append(errs, "session.command_retries must not be negative")
	}
	if c.Session.RetryBackoff <= 0 {
		errs = append(errs, "session.retry_backoff must be positive")
	}
	if c.Session.PollInterval <= 0 {
		errs = append(errs, "session.poll_interval must be positive")
	}
	if c.Session.PollFailLimit < 1 {
		errs = append(errs, "session.poll_fail_limit must be at least 1")
	}

	if c.Manager.RescanInterval <= 0 {
		errs = append(errs, "manager.rescan_interval must be positive")
	}
	if c.Manager.GracePeriod < 0 {
		errs = append(errs, "manager.grace_period must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Prefix == "" {
			errs = append(errs, "mqtt.prefix is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	seen := make(map[string]bool)
	for i, d := range c.Simulate.Devices {
		if d.Serial == "" {
			errs = append(errs, fmt.Sprintf("simulate.devices[%d].serial is required", i))
		} else if seen[d.Serial] {
			errs = append(errs, fmt.Sprintf("simulate.devices[%d]: duplicate serial %q", i, d.Serial))
		}
		seen[d.Serial] = true
		if _, err := ParseKind(d.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("simulate.devices[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLevel maps a config log level onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseKind maps a simulated device kind name onto the hardware kind.
func ParseKind(s string) (state.Kind, error) {
	switch strings.ToLower(s) {
	case "", "studio":
		return state.KindStudio, nil
	case "compact":
		return state.KindCompact, nil
	default:
		return state.KindUnknown, fmt.Errorf("unknown device kind %q", s)
	}
}

// SessionConfig converts the session policy into the session package's
// configuration.
func (c *Config) SessionConfig() session.Config {
	retries := c.Session.CommandRetries
	if retries == 0 {
		// The session treats zero as "use the default", so an explicit
		// zero here becomes the session's disable value.
		retries = -1
	}
	return session.Config{
		CommandTimeout: c.Session.CommandTimeout.Std(),
		Retries:        retries,
		RetryBackoff:   session.BackoffConfig{Initial: c.Session.RetryBackoff.Std()},
		PollInterval:   c.Session.PollInterval.Std(),
		PollFailLimit:  c.Session.PollFailLimit,
	}
}
