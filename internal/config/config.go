package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig    `json:"server"`
	Log           LogConfig       `json:"log"`
	DB            DBConfig        `json:"db"`
	EncryptionKey string          `json:"encryption_key" validate:"required,len=32"`
	Scheduler     SchedulerConfig `json:"scheduler"`
	Telegram      TelegramConfig  `json:"telegram"`
	Gmail         GmailConfig     `json:"gmail"`
}

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	HTTPPort        int      `json:"http_port" validate:"gte=0,lte=65535"`
	MetricsPort     int      `json:"metrics_port" validate:"gte=0,lte=65535"`
	ShutdownTimeout Duration `json:"shutdown_timeout" validate:"min=1s"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json console"`
}

// DBConfig configures the SQLite connection pool.
type DBConfig struct {
	Path            string   `json:"path" validate:"required"`
	MaxOpenConns    int      `json:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int      `json:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" validate:"min=1s"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" validate:"min=1s"`
	BusyTimeout     Duration `json:"busy_timeout" validate:"min=1ms"`
}

// SchedulerConfig configures trigger evaluation and dispatch.
type SchedulerConfig struct {
	Timezone                string   `json:"timezone" validate:"required,timezone"`
	MaxConcurrentDispatches int      `json:"max_concurrent_dispatches" validate:"gte=0"`
	DispatchTimeout         Duration `json:"dispatch_timeout"`
	BootstrapTimeout        Duration `json:"bootstrap_timeout" validate:"min=1s"`
	LogRetention            Duration `json:"log_retention"`
	RetentionSchedule       string   `json:"retention_schedule"`
}

// TelegramConfig configures the telegram_message step.
type TelegramConfig struct {
	// APIEndpoint is a format string taking the bot token and method name.
	APIEndpoint    string   `json:"api_endpoint"`
	RateLimit      float64  `json:"rate_limit" validate:"gte=0"`
	RequestTimeout Duration `json:"request_timeout" validate:"min=1s"`
}

// GmailConfig configures the gmail_send step.
type GmailConfig struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

// Duration is a wrapper around time.Duration that implements JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used for any value the file and
// environment leave unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		DB: DBConfig{
			Path:            "automator.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{time.Hour},
			ConnMaxIdleTime: Duration{30 * time.Minute},
			BusyTimeout:     Duration{5 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Timezone:                "UTC",
			MaxConcurrentDispatches: 16,
			BootstrapTimeout:        Duration{30 * time.Second},
			LogRetention:            Duration{90 * 24 * time.Hour},
			RetentionSchedule:       "0 3 * * *",
		},
		Telegram: TelegramConfig{RateLimit: 25, RequestTimeout: Duration{30 * time.Second}},
	}
}

// Load reads configuration from a file over the defaults and overrides it
// with environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overrides config fields with AUTOMATOR_* environment variables.
func (c *Config) applyEnvOverrides() error {
	ints := map[string]*int{
		"AUTOMATOR_HTTP_PORT":                 &c.Server.HTTPPort,
		"AUTOMATOR_METRICS_PORT":              &c.Server.MetricsPort,
		"AUTOMATOR_MAX_CONCURRENT_DISPATCHES": &c.Scheduler.MaxConcurrentDispatches,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", name, err)
			}
			*dst = n
		}
	}

	strs := map[string]*string{
		"AUTOMATOR_LOG_LEVEL":         &c.Log.Level,
		"AUTOMATOR_LOG_FORMAT":        &c.Log.Format,
		"AUTOMATOR_DB_PATH":           &c.DB.Path,
		"AUTOMATOR_ENCRYPTION_KEY":    &c.EncryptionKey,
		"AUTOMATOR_TIMEZONE":          &c.Scheduler.Timezone,
		"AUTOMATOR_TELEGRAM_ENDPOINT": &c.Telegram.APIEndpoint,
		"AUTOMATOR_GMAIL_ENDPOINT":    &c.Gmail.Endpoint,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"AUTOMATOR_DISPATCH_TIMEOUT": &c.Scheduler.DispatchTimeout,
		"AUTOMATOR_LOG_RETENTION":    &c.Scheduler.LogRetention,
		"AUTOMATOR_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
		"AUTOMATOR_TELEGRAM_TIMEOUT": &c.Telegram.RequestTimeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", name, err)
			}
			*dst = Duration{d}
		}
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if c.Scheduler.DispatchTimeout.Duration < 0 || c.Scheduler.LogRetention.Duration < 0 {
		return fmt.Errorf("scheduler durations cannot be negative")
	}
	if c.DB.ConnMaxIdleTime.Duration > c.DB.ConnMaxLifetime.Duration {
		return fmt.Errorf("db conn_max_idle_time cannot exceed conn_max_lifetime")
	}

	return nil
}

// Location resolves the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}
