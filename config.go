package surge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultFlushGrace bounds how long a cancelled run keeps flushing.
const DefaultFlushGrace = 5 * time.Second

// validate is the shared validator instance.
var validate = validator.New()

// Config is the immutable configuration of a run.
type Config struct {
	// Concurrency is the maximum number of documents mutated at once.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"min=1"`

	// FlushInterval is the longest a buffered write may sit before it is
	// flushed. Zero flushes every write synchronously.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" validate:"min=0"`

	// Deadline bounds the whole run. Zero means no deadline.
	Deadline time.Duration `json:"deadline" yaml:"deadline" validate:"min=0"`

	// FlushGrace bounds the drain once the run has been cancelled: every
	// flush still running or issued after cancellation must finish within
	// FlushGrace of it. Zero uses DefaultFlushGrace.
	FlushGrace time.Duration `json:"flush_grace" yaml:"flush_grace" validate:"min=0"`

	// MaxWritesPerDocument caps the writes a single task may issue.
	// Zero means unbounded.
	MaxWritesPerDocument int `json:"max_writes_per_document" yaml:"max_writes_per_document" validate:"min=0"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// grace returns the effective flush grace period.
func (c Config) grace() time.Duration {
	if c.FlushGrace > 0 {
		return c.FlushGrace
	}
	return DefaultFlushGrace
}

// LoadConfig reads a Config from a YAML or JSON file. The codec is chosen by
// file extension; anything other than .json is parsed as YAML.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var codec Codec = YAMLCodec{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		codec = JSONCodec{}
	}

	var raw configFile
	if err := codec.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg, err := raw.config()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// configFile is the on-disk shape of a Config. Durations are written as
// strings such as "200ms" or "5s".
type configFile struct {
	Concurrency          int    `json:"concurrency" yaml:"concurrency"`
	FlushInterval        string `json:"flush_interval" yaml:"flush_interval"`
	Deadline             string `json:"deadline" yaml:"deadline"`
	FlushGrace           string `json:"flush_grace" yaml:"flush_grace"`
	MaxWritesPerDocument int    `json:"max_writes_per_document" yaml:"max_writes_per_document"`
}

func (f configFile) config() (Config, error) {
	cfg := Config{
		Concurrency:          f.Concurrency,
		MaxWritesPerDocument: f.MaxWritesPerDocument,
	}
	var err error
	if cfg.FlushInterval, err = parseDuration("flush_interval", f.FlushInterval); err != nil {
		return Config{}, err
	}
	if cfg.Deadline, err = parseDuration("deadline", f.Deadline); err != nil {
		return Config{}, err
	}
	if cfg.FlushGrace, err = parseDuration("flush_grace", f.FlushGrace); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
