// Package config loads xact-host settings from a file, XACT_ environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"xactlink/host/serial"
	"xactlink/protocol"
)

// SerialConfig holds the serial line settings
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// TelemetryConfig selects the register window requested each cycle
type TelemetryConfig struct {
	WindowAddress int    `mapstructure:"windowAddress"`
	WindowLength  int    `mapstructure:"windowLength"`
	Sync          string `mapstructure:"sync"`
}

// PollConfig drives poll mode
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cycles   int           `mapstructure:"cycles"`
}

// LinkConfig holds request pacing and health settings
type LinkConfig struct {
	ResponseTimeout time.Duration `mapstructure:"responseTimeout"`
	CommandSpacing  time.Duration `mapstructure:"commandSpacing"`
	MissThreshold   int           `mapstructure:"missThreshold"`
}

// LumberjackConfig configures the rolling log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig holds log level and output settings
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// OutputConfig selects how snapshots are printed
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// Config is the top-level xact-host configuration
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Poll      PollConfig      `mapstructure:"poll"`
	Link      LinkConfig      `mapstructure:"link"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Output    OutputConfig    `mapstructure:"output"`
	Simulate  bool            `mapstructure:"simulate"`
	Console   bool            `mapstructure:"console"`
}

// Flag names bound onto config keys
var flagKeys = map[string]string{
	"baud":             "serial.baud",
	"read-timeout":     "serial.readTimeout",
	"window-address":   "telemetry.windowAddress",
	"window-length":    "telemetry.windowLength",
	"interval":         "poll.interval",
	"cycles":           "poll.cycles",
	"response-timeout": "link.responseTimeout",
	"command-spacing":  "link.commandSpacing",
	"miss-threshold":   "link.missThreshold",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-file":         "logging.file.filename",
	"metrics-addr":     "metrics.addr",
	"output":           "output.format",
	"simulate":         "simulate",
	"console":          "console",
}

// RegisterFlags defines the xact-host flags on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.Int("baud", serial.DefaultBaud, "serial baud rate")
	fs.Duration("read-timeout", 50*time.Millisecond, "serial read timeout")
	fs.Int("window-address", protocol.TelemetryWindowAddress, "telemetry window start register")
	fs.Int("window-length", protocol.TelemetryWindowLength, "telemetry window length in bytes")
	fs.Duration("interval", 500*time.Millisecond, "poll interval")
	fs.Int("cycles", 10, "number of poll cycles")
	fs.Duration("response-timeout", time.Second, "time to wait for a response frame")
	fs.Duration("command-spacing", 6*time.Millisecond, "minimum gap between commands")
	fs.Int("miss-threshold", 5, "consecutive misses before the link is reported degraded")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "console", "log format: console or json")
	fs.String("log-file", "", "rolling log file (disabled when empty)")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringP("output", "o", "text", "snapshot output: text or yaml")
	fs.Bool("simulate", false, "talk to a simulated device instead of a serial port")
	fs.Bool("console", false, "start the interactive console instead of polling")
}

// Load reads configuration from an optional YAML/TOML/JSON file, the
// environment and fs. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// XACT_LINK_MISSTHRESHOLD overrides link.missThreshold
	v.SetEnvPrefix("XACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", serial.DefaultBaud)
	v.SetDefault("serial.readTimeout", "50ms")

	v.SetDefault("telemetry.windowAddress", protocol.TelemetryWindowAddress)
	v.SetDefault("telemetry.windowLength", protocol.TelemetryWindowLength)
	v.SetDefault("telemetry.sync", "1acf")

	v.SetDefault("poll.interval", "500ms")
	v.SetDefault("poll.cycles", 10)

	v.SetDefault("link.responseTimeout", "1s")
	v.SetDefault("link.commandSpacing", "6ms")
	v.SetDefault("link.missThreshold", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("output.format", "text")
	v.SetDefault("simulate", false)
	v.SetDefault("console", false)
}

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("config: invalid")

// Validate checks ranges that viper cannot express
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud %d", ErrInvalidConfig, c.Serial.Baud)
	}
	if c.Telemetry.WindowAddress < 0 || c.Telemetry.WindowAddress > 0xFFFF {
		return fmt.Errorf("%w: telemetry.windowAddress 0x%X outside register space", ErrInvalidConfig, c.Telemetry.WindowAddress)
	}
	if c.Telemetry.WindowLength <= 0 || c.Telemetry.WindowLength > protocol.MaxPayload {
		return fmt.Errorf("%w: telemetry.windowLength %d", ErrInvalidConfig, c.Telemetry.WindowLength)
	}
	if _, err := c.SyncMarker(); err != nil {
		return err
	}
	if c.Poll.Cycles < 0 {
		return fmt.Errorf("%w: poll.cycles %d", ErrInvalidConfig, c.Poll.Cycles)
	}
	if c.Link.ResponseTimeout <= 0 {
		return fmt.Errorf("%w: link.responseTimeout must be positive", ErrInvalidConfig)
	}
	if c.Link.CommandSpacing < 0 {
		return fmt.Errorf("%w: link.commandSpacing must not be negative", ErrInvalidConfig)
	}
	if c.Link.MissThreshold <= 0 {
		return fmt.Errorf("%w: link.missThreshold %d", ErrInvalidConfig, c.Link.MissThreshold)
	}
	switch strings.ToLower(c.Output.Format) {
	case "text", "yaml":
	default:
		return fmt.Errorf("%w: output.format %q", ErrInvalidConfig, c.Output.Format)
	}
	return nil
}

// SyncMarker parses telemetry.sync as two hex bytes
func (c *Config) SyncMarker() (protocol.SyncMarker, error) {
	var m protocol.SyncMarker
	b, err := hex.DecodeString(c.Telemetry.Sync)
	if err != nil || len(b) != len(m) {
		return m, fmt.Errorf("%w: telemetry.sync %q is not two hex bytes", ErrInvalidConfig, c.Telemetry.Sync)
	}
	copy(m[:], b)
	return m, nil
}

// SerialPort returns the serial settings in host/serial form
func (c *Config) SerialPort() *serial.Config {
	return &serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: c.Serial.ReadTimeout,
	}
}
