package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppName string `env:"APP_NAME,default=chatcore"`
	Env     string `env:"APP_ENV,default=development"`
	Host    string `env:"HTTP_HOST,default=0.0.0.0"`
	Port    int    `env:"HTTP_PORT,default=8000"`

	DBDriver   string `env:"DB_DRIVER,default=sqlite"`
	SQLitePath string `env:"SQLITE_PATH,default=chatcore.db"`
	PGHost     string `env:"POSTGRES_HOST,default=localhost"`
	PGPort     string `env:"POSTGRES_PORT,default=5432"`
	PGUser     string `env:"POSTGRES_USER,default=postgres"`
	PGPassword string `env:"POSTGRES_PASSWORD,default=postgres"`
	PGDatabase string `env:"POSTGRES_DB,default=chatcore"`

	JWTSecret      string `env:"JWT_SECRET"`
	CORSOriginsRaw string `env:"CORS_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	HistoryPageSize    int           `env:"HISTORY_PAGE_SIZE,default=50"`
	MaxHistoryPageSize int           `env:"MAX_HISTORY_PAGE_SIZE,default=200"`
	TypingTimeout      time.Duration `env:"TYPING_TIMEOUT,default=5s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	CORSOrigins []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if cfg.CORSOriginsRaw != "" {
		for _, o := range strings.Split(cfg.CORSOriginsRaw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}
	if cfg.HistoryPageSize <= 0 || cfg.MaxHistoryPageSize < cfg.HistoryPageSize {
		return nil, fmt.Errorf("HISTORY_PAGE_SIZE must be positive and at most MAX_HISTORY_PAGE_SIZE")
	}
	if cfg.TypingTimeout <= 0 {
		return nil, fmt.Errorf("TYPING_TIMEOUT must be positive")
	}

	return &cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PGUser, c.PGPassword),
		Host:     fmt.Sprintf("%s:%s", c.PGHost, c.PGPort),
		Path:     c.PGDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SlogLevel maps LOG_LEVEL onto a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
