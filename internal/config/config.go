package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix namespaces the override environment variables.
const EnvPrefix = "AGENTPIPE_"

// Duration is a time.Duration that unmarshals from TOML strings like "90s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ParseError reports an unreadable or malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// WorkerConfig describes the worker process to supervise.
type WorkerConfig struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Env            map[string]string `toml:"env"`
	Dir            string            `toml:"dir"`
	HealthInterval Duration          `toml:"health_interval"`
	RestartDelay   Duration          `toml:"restart_delay"`
}

// TimeoutConfig is the per-kind command deadline policy.
type TimeoutConfig struct {
	Default    Duration `toml:"default"`
	Summarize  Duration `toml:"summarize"`
	FileUpload Duration `toml:"file_upload"`
}

// BufferConfig bounds the stdout accumulation.
type BufferConfig struct {
	MaxSize int `toml:"max_size"`
}

// LoggingConfig controls host diagnostics.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the complete host configuration.
type Config struct {
	Worker   WorkerConfig  `toml:"worker"`
	Timeouts TimeoutConfig `toml:"timeouts"`
	Buffer   BufferConfig  `toml:"buffer"`
	Logging  LoggingConfig `toml:"logging"`
}

// Default returns the configuration used when no file or overrides exist.
// The worker command has no default; it must come from the file, the
// environment, or the command line.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			HealthInterval: Duration(2 * time.Minute),
			RestartDelay:   Duration(2 * time.Second),
		},
		Timeouts: TimeoutConfig{
			Default:    Duration(30 * time.Second),
			Summarize:  Duration(120 * time.Second),
			FileUpload: Duration(90 * time.Second),
		},
		Buffer: BufferConfig{
			MaxSize: 10 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path if
// it exists, then environment overrides. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus environment still apply.
		case err != nil:
			return cfg, &ParseError{Path: path, Err: err}
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, &ParseError{Path: path, Err: err}
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays AGENTPIPE_ environment variables on the configuration.
// Empty values are treated as set.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvPrefix + "WORKER_COMMAND"); ok {
		c.Worker.Command = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "WORKER_ARGS"); ok {
		c.Worker.Args = strings.Fields(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "WORKER_DIR"); ok {
		c.Worker.Dir = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "HEALTH_INTERVAL"); ok {
		c.Worker.HealthInterval.setFrom(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "RESTART_DELAY"); ok {
		c.Worker.RestartDelay.setFrom(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "TIMEOUT_DEFAULT"); ok {
		c.Timeouts.Default.setFrom(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "TIMEOUT_SUMMARIZE"); ok {
		c.Timeouts.Summarize.setFrom(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "TIMEOUT_FILE_UPLOAD"); ok {
		c.Timeouts.FileUpload.setFrom(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BUFFER_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Buffer.MaxSize = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
}

// setFrom overwrites the duration when the value parses; a malformed override
// keeps the prior value.
func (d *Duration) setFrom(v string) {
	if parsed, err := time.ParseDuration(v); err == nil {
		*d = Duration(parsed)
	}
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.MaxSize <= 0 {
		return fmt.Errorf("buffer.max_size must be positive, got %d", c.Buffer.MaxSize)
	}
	for name, d := range map[string]Duration{
		"timeouts.default":     c.Timeouts.Default,
		"timeouts.summarize":   c.Timeouts.Summarize,
		"timeouts.file_upload": c.Timeouts.FileUpload,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Std())
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
