// Package config reads server settings from the environment, with command
// line flags taking precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Addr            string
	Store           string
	RedisURL        string
	RedisNamespace  string
	DatabaseURL     string
	JWTSecret       string
	AIMoveDelay     time.Duration
	SweepInterval   time.Duration
	LogLevel        string
	Dev             bool
	OriginAllowlist []string

	// IssueToken, when set, prints a token for that participant and exits.
	IssueToken string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Addr:           ":8080",
		Store:          StoreMemory,
		RedisNamespace: "goban",
		AIMoveDelay:    500 * time.Millisecond,
		SweepInterval:  time.Second,
		LogLevel:       "info",
	}
}

// Load reads the environment and then args. getenv is os.Getenv outside tests.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	var err error
	cfg.Addr = env("ADDR", cfg.Addr)
	cfg.Store = env("STORE", cfg.Store)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.RedisNamespace = env("REDIS_NAMESPACE", cfg.RedisNamespace)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = env("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	if cfg.AIMoveDelay, err = duration(env("AI_MOVE_DELAY", ""), cfg.AIMoveDelay); err != nil {
		return Config{}, fmt.Errorf("AI_MOVE_DELAY: %w", err)
	}
	if cfg.SweepInterval, err = duration(env("SWEEP_INTERVAL", ""), cfg.SweepInterval); err != nil {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}
	allow := env("ORIGIN_ALLOWLIST", "")

	fs := flag.NewFlagSet("goban", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: memory, redis or postgres")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis:// url")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres dsn")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret; empty trusts the X-Participant header")
	fs.DurationVar(&cfg.AIMoveDelay, "ai-move-delay", cfg.AIMoveDelay, "pause before computer moves")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "matchmaking sweep period")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&cfg.Dev, "dev", false, "human readable logs")
	fs.StringVar(&allow, "origins", allow, "comma separated browser origins allowed to connect")
	fs.StringVar(&cfg.IssueToken, "issue-token", "", "print a token for this participant id and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.OriginAllowlist = splitList(allow)
	return cfg, cfg.Validate()
}

// Validate checks that the chosen backend has what it needs.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("store %q requires REDIS_URL", c.Store)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q requires DATABASE_URL", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.IssueToken != "" && c.JWTSecret == "" {
		return fmt.Errorf("-issue-token requires JWT_SECRET")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Logger builds the process logger: JSON in production, console with -dev.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func duration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
