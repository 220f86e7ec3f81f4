// Package config loads the evsync YAML configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file, and EVSYNC_* environment variables. Unknown YAML keys are errors.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Config is the full configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Remote  RemoteConfig  `yaml:"remote"`
	Outbox  OutboxConfig  `yaml:"outbox"`
	Forms   FormsConfig   `yaml:"forms"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Server  ServerConfig  `yaml:"server"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite badger memory"`
	Path   string `yaml:"path" validate:"required_unless=Driver memory"`
}

type RemoteConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type OutboxConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gt=0"`
}

type FormsConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"loglevel"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ServerConfig configures the reference server started by `evsync serve`.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:  StoreConfig{Driver: DriverSQLite, Path: "evsync.db"},
		Remote: RemoteConfig{URL: "http://localhost:8080", Timeout: 30 * time.Second},
		Outbox: OutboxConfig{RetryInterval: 10 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode strictly decodes YAML into cfg, keeping fields absent from data.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg from EVSYNC_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"EVSYNC_STORE_DRIVER":  &cfg.Store.Driver,
		"EVSYNC_STORE_PATH":    &cfg.Store.Path,
		"EVSYNC_REMOTE_URL":    &cfg.Remote.URL,
		"EVSYNC_REMOTE_TOKEN":  &cfg.Remote.Token,
		"EVSYNC_FORMS_DIR":     &cfg.Forms.Dir,
		"EVSYNC_LOG_LEVEL":     &cfg.Log.Level,
		"EVSYNC_LOG_FORMAT":    &cfg.Log.Format,
		"EVSYNC_METRICS_ADDR":  &cfg.Metrics.Addr,
		"EVSYNC_SERVER_ADDR":   &cfg.Server.Addr,
		"EVSYNC_SERVER_SECRET": &cfg.Server.Secret,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"EVSYNC_REMOTE_TIMEOUT":        &cfg.Remote.Timeout,
		"EVSYNC_OUTBOX_RETRY_INTERVAL": &cfg.Outbox.RetryInterval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// configValidate checks Config struct tags. Field names in errors are the
// YAML paths.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = configValidate.RegisterValidation("loglevel", validateLogLevel)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := LogConfig{Level: fl.Field().String()}.SlogLevel()
	return err == nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s: unknown value %q (want one of %s)", path, fe.Value(), fe.Param())
	case "required_unless":
		return fmt.Errorf("%s is required for driver %q", path, c.Store.Driver)
	case "gt":
		return fmt.Errorf("%s must be positive", path)
	case "gte":
		return fmt.Errorf("%s must not be negative", path)
	case "loglevel":
		return fmt.Errorf("%s: unknown level %q", path, fe.Value())
	default:
		return fmt.Errorf("%s: invalid value %v (%s)", path, fe.Value(), fe.Tag())
	}
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Handler builds the slog handler the log section describes.
func (l LogConfig) Handler(w io.Writer, verbose bool) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}
