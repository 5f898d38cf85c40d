// Package config loads and holds the wrapper configuration.
// Settings come from built-in defaults, then an optional YAML file, then
// PW_* environment variables. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/logger"
)

// DefaultFile is read when no --config flag is given. It is optional.
const DefaultFile = "privacy-wrapper.yaml"

// Config holds the full configuration.
type Config struct {
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`

	// Placeholder naming: "numeric" (PERSON_1) or "letter" (Pers_A).
	AliasStyle string `yaml:"aliasStyle"`

	UseNER        bool     `yaml:"useNER"`
	UseRegex      bool     `yaml:"useRegex"`
	GazetteerFile string   `yaml:"gazetteerFile"`
	Labels        []string `yaml:"labels"` // empty = every label

	SessionTTL      time.Duration `yaml:"sessionTTL"`
	MaxSessions     int           `yaml:"maxSessions"`
	MaxTextBytes    int64         `yaml:"maxTextBytes"`
	DetectPerMinute int           `yaml:"detectPerMinute"` // 0 = unlimited
	EnableH2C       bool          `yaml:"enableH2C"`
}

// Load returns the configuration for path. A missing file is not an error;
// an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultFile
	}
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		BindAddress:     "127.0.0.1",
		Port:            8501,
		LogLevel:        "info",
		AliasStyle:      string(alias.StyleNumeric),
		UseNER:          true,
		UseRegex:        true,
		SessionTTL:      2 * time.Hour,
		MaxSessions:     256,
		MaxTextBytes:    1 << 20,
		DetectPerMinute: 0,
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Style returns the parsed alias style. Validate guarantees it parses.
func (c *Config) Style() alias.Style {
	s, err := alias.ParseStyle(c.AliasStyle)
	if err != nil {
		return alias.StyleNumeric
	}
	return s
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := alias.ParseStyle(c.AliasStyle); err != nil {
		errs = append(errs, err)
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("sessionTTL must be positive, got %s", c.SessionTTL))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("maxSessions must be positive, got %d", c.MaxSessions))
	}
	if c.MaxTextBytes <= 0 {
		errs = append(errs, fmt.Errorf("maxTextBytes must be positive, got %d", c.MaxTextBytes))
	}
	if c.DetectPerMinute < 0 {
		errs = append(errs, fmt.Errorf("detectPerMinute must not be negative, got %d", c.DetectPerMinute))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PW_BIND_ADDRESS", &cfg.BindAddress)
	integer("PW_PORT", &cfg.Port)
	str("PW_LOG_LEVEL", &cfg.LogLevel)
	str("PW_ALIAS_STYLE", &cfg.AliasStyle)
	boolean("PW_USE_NER", &cfg.UseNER)
	boolean("PW_USE_REGEX", &cfg.UseRegex)
	str("PW_GAZETTEER_FILE", &cfg.GazetteerFile)
	integer("PW_MAX_SESSIONS", &cfg.MaxSessions)
	integer("PW_DETECT_PER_MINUTE", &cfg.DetectPerMinute)
	boolean("PW_ENABLE_H2C", &cfg.EnableH2C)

	if v := os.Getenv("PW_LABELS"); v != "" {
		cfg.Labels = nil
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				cfg.Labels = append(cfg.Labels, l)
			}
		}
	}
	if v := os.Getenv("PW_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PW_SESSION_TTL: %w", err))
		} else {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv("PW_MAX_TEXT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PW_MAX_TEXT_BYTES: %w", err))
		} else {
			cfg.MaxTextBytes = n
		}
	}
	return errors.Join(errs...)
}
