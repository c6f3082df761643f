// Package config loads the host configuration: a YAML file, then
// SOHAYOK_* environment overrides, then defaults and validation.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Sohayok/common/environment"
	"github.com/bdobrica/Sohayok/common/redact"
	"github.com/bdobrica/Sohayok/common/retry"
)

// PathEnv names the variable that points at the config file.
const PathEnv = "SOHAYOK_CONFIG"

// DefaultPath is read when PathEnv is unset. It may be absent.
const DefaultPath = "sohayok.yaml"

type Config struct {
	Database    Database    `yaml:"database"`
	Catalog     Catalog     `yaml:"catalog"`
	Session     Session     `yaml:"session"`
	Engine      Engine      `yaml:"engine"`
	History     History     `yaml:"history"`
	Log         Log         `yaml:"log"`
	Persistence Persistence `yaml:"persistence"`
}

type Database struct {
	// SQLite database file
	Path string `yaml:"path" example:"/var/lib/sohayok/sohayok.db" validate:"required"`
}

type Catalog struct {
	// Optional YAML vocabulary overlay merged over the built-in catalog
	OverlayPath string `yaml:"overlay_path" example:"/etc/sohayok/vocabulary.yaml"`
}

type Session struct {
	// Idle time after which a conversation session ends
	Cooldown time.Duration `yaml:"cooldown" example:"15m" validate:"gt=0"`
	// How often idle sessions are swept
	SweepInterval time.Duration `yaml:"sweep_interval" example:"1m" validate:"gt=0"`
}

type Engine struct {
	// Seed for reply selection; 0 picks a random seed
	Seed uint64 `yaml:"seed" example:"0"`
}

type History struct {
	// Events returned by history queries without an explicit limit
	DefaultLimit int `yaml:"default_limit" example:"50" validate:"gt=0"`
	// Maximum events included in an export
	ExportLimit int `yaml:"export_limit" example:"1000" validate:"gt=0"`
}

type Log struct {
	// Minimum console level
	Level string `yaml:"level" example:"info" validate:"oneof=debug info warn error"`
	// Optional JSON-lines log file
	File string `yaml:"file" example:"/var/log/sohayok.jsonl"`
	// Caregiver alert logging
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890" validate:"required_with=Token"`
}

type Persistence struct {
	Retry Retry `yaml:"retry"`
}

type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts" example:"4" validate:"gte=1,lte=20"`
	InitialDelay time.Duration `yaml:"initial_delay" example:"25ms" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" example:"1s" validate:"gtefield=InitialDelay"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Database: Database{Path: "sohayok.db"},
		Session: Session{
			Cooldown:      15 * time.Minute,
			SweepInterval: time.Minute,
		},
		History: History{DefaultLimit: 50, ExportLimit: 1000},
		Log:     Log{Level: "info"},
		Persistence: Persistence{Retry: Retry{
			MaxAttempts:  retry.Default.Attempts,
			InitialDelay: retry.Default.BaseDelay,
			MaxDelay:     retry.Default.MaxDelay,
		}},
	}
}

// Load reads the file named by SOHAYOK_CONFIG, or DefaultPath when that is
// unset. Only the default path may be missing.
func Load() (*Config, error) {
	if path, ok := environment.Prefix("").Lookup(PathEnv); ok {
		return LoadFile(path, false)
	}
	return LoadFile(DefaultPath, true)
}

// LoadFile reads path, applies environment overrides and validates the
// result. A missing file is an error unless optional is set.
func LoadFile(path string, optional bool) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, oops.In("config").Code("config_parse").With("path", path).Wrapf(err, "failed to parse YAML config")
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, oops.In("config").Code("config_read").With("path", path).Wrapf(err, "failed to read config file")
	}

	cfg.applyEnv(environment.Prefix("SOHAYOK"))
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(env environment.Env) {
	c.Database.Path = env.String("DB_PATH", c.Database.Path)
	c.Catalog.OverlayPath = env.String("CATALOG_OVERLAY", c.Catalog.OverlayPath)
	c.Session.Cooldown = env.Duration("SESSION_COOLDOWN", c.Session.Cooldown)
	c.Session.SweepInterval = env.Duration("SWEEP_INTERVAL", c.Session.SweepInterval)
	if seed := env.Int64("SEED", -1); seed >= 0 {
		c.Engine.Seed = uint64(seed)
	}
	c.History.DefaultLimit = env.Int("HISTORY_LIMIT", c.History.DefaultLimit)
	c.History.ExportLimit = env.Int("EXPORT_LIMIT", c.History.ExportLimit)
	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
	c.Log.File = env.String("LOG_FILE", c.Log.File)
	c.Log.Telegram.Token = env.String("TELEGRAM_TOKEN", c.Log.Telegram.Token)
	c.Log.Telegram.ChatID = env.String("TELEGRAM_CHAT_ID", c.Log.Telegram.ChatID)
	c.Persistence.Retry.MaxAttempts = env.Int("RETRY_ATTEMPTS", c.Persistence.Retry.MaxAttempts)
}

// fillDefaults restores defaults for keys a file cleared explicitly.
func (c *Config) fillDefaults() {
	d := Defaults()
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Persistence.Retry.InitialDelay == 0 {
		c.Persistence.Retry.InitialDelay = d.Persistence.Retry.InitialDelay
	}
	if c.Persistence.Retry.MaxDelay == 0 {
		c.Persistence.Retry.MaxDelay = d.Persistence.Retry.MaxDelay
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return oops.In("config").Code("config_invalid").Wrapf(err, "failed to validate config")
	}
	return nil
}

// SlogLevel maps Log.Level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// RetryConfig builds the store write retry policy.
func (c *Config) RetryConfig(retryable func(error) bool, logger *slog.Logger) retry.Config {
	return retry.Config{
		Attempts:  c.Persistence.Retry.MaxAttempts,
		BaseDelay: c.Persistence.Retry.InitialDelay,
		MaxDelay:  c.Persistence.Retry.MaxDelay,
		Retryable: retryable,
		Logger:    logger,
	}
}

// LogValue keeps the bot token out of log output.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("database", c.Database.Path),
		slog.String("catalog_overlay", c.Catalog.OverlayPath),
		slog.Duration("session_cooldown", c.Session.Cooldown),
		slog.Duration("sweep_interval", c.Session.SweepInterval),
		slog.Uint64("seed", c.Engine.Seed),
		slog.Int("history_limit", c.History.DefaultLimit),
		slog.Int("export_limit", c.History.ExportLimit),
		slog.String("log_level", c.Log.Level),
		slog.String("log_file", c.Log.File),
		slog.String("telegram_token", redact.Token(c.Log.Telegram.Token)),
		slog.String("telegram_chat_id", c.Log.Telegram.ChatID),
	)
}
