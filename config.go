package main

import (
	"io"
	"os"
	"strings"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config holds the server settings. Defaults come from DefaultConfig, the
// environment (and an optional .env file) overrides them, flags override both.
type Config struct {
	Addr           string `config:"ARENA_ADDR"`
	ClientDir      string `config:"ARENA_CLIENT_DIR"`
	DBPath         string `config:"ARENA_DB_PATH"`
	PublicURL      string `config:"ARENA_PUBLIC_URL"`
	AllowedOrigins string `config:"ALLOWED_ORIGINS"`
	JWTSecret      string `config:"JWT_SECRET"`

	RedisAddr     string `config:"REDIS_ADDR"`
	RedisPassword string `config:"REDIS_PASSWORD"`
	RedisDB       int    `config:"REDIS_DB"`

	LogLevel  string `config:"LOG_LEVEL"`
	LogPretty bool   `config:"LOG_PRETTY"`

	// Matchmaking
	SettleDelay       time.Duration `config:"SETTLE_DELAY"`
	WaitTimeout       time.Duration `config:"WAIT_TIMEOUT"`
	ReconcileInterval time.Duration `config:"RECONCILE_INTERVAL"`
	SweepInterval     time.Duration `config:"SWEEP_INTERVAL"`
	QueueTTL          time.Duration `config:"QUEUE_TTL"`
}

// DefaultConfig returns the settings used when nothing else is configured
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		DBPath:            "arena.db",
		AllowedOrigins:    "*",
		LogLevel:          "info",
		SettleDelay:       300 * time.Millisecond,
		WaitTimeout:       25 * time.Second,
		ReconcileInterval: 2 * time.Second,
		SweepInterval:     time.Minute,
		QueueTTL:          10 * time.Minute,
	}
}

// LoadConfig reads .env (if present) and the process environment on top of
// the defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, eris.Wrap(err, "load .env")
	}
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return cfg, eris.Wrap(err, "read environment")
	}
	return cfg, nil
}

// Origins splits the comma-separated ALLOWED_ORIGINS value
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NewLogger builds the root logger
func NewLogger(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
