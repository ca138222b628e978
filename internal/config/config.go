package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
)

var ErrInvalid = errors.New("invalid config")

// Config is read from the environment. A .env file, when present, is loaded
// into the environment first by cmd/server.
type Config struct {
	Addr           string   `env:"ADDR" envDefault:":2004"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	RoomIdleTTL   time.Duration `env:"ROOM_IDLE_TTL" envDefault:"6h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	MaxTicketsPerAssign int `env:"MAX_TICKETS_PER_ASSIGN" envDefault:"12"`
	ChatHistoryLimit    int `env:"CHAT_HISTORY_LIMIT" envDefault:"200"`
	ChatMaxLen          int `env:"CHAT_MAX_LEN" envDefault:"500"`

	// Optional results sinks. Empty disables them.
	ArchiveDSN   string `env:"ARCHIVE_DSN"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"tambola.results"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"LOG_DEV" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR is empty"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS is empty"))
	}
	for name, d := range map[string]time.Duration{
		"ROOM_IDLE_TTL":    c.RoomIdleTTL,
		"SWEEP_INTERVAL":   c.SweepInterval,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for name, n := range map[string]int{
		"MAX_TICKETS_PER_ASSIGN": c.MaxTicketsPerAssign,
		"CHAT_HISTORY_LIMIT":     c.ChatHistoryLimit,
		"CHAT_MAX_LEN":           c.ChatMaxLen,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		errs = append(errs, errors.New("AMQP_EXCHANGE is required with AMQP_URL"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c Config) Limits() engine.Limits {
	return engine.Limits{
		MaxTicketsPerAssign: c.MaxTicketsPerAssign,
		ChatHistoryLimit:    c.ChatHistoryLimit,
		ChatMaxLen:          c.ChatMaxLen,
	}
}

// Level returns the parsed log level. Validate has already rejected bad values.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
