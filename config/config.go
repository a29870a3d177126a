package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Recurrence RecurrenceConfig
	Telemetry  TelemetryConfig
	Notify     NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT" envDefault:"8080"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:3001"` // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `env:"DATABASE_URL"` // if set, used as-is
	Host            string `env:"DB_HOST" envDefault:"localhost"`
	Port            string `env:"DB_PORT" envDefault:"5432"`
	User            string `env:"DB_USER" envDefault:"postgres"`
	Password        string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName          string `env:"DB_NAME" envDefault:"dance"`
	SSLMode         string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns        int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	SlowQueryMillis int    `env:"DB_SLOW_QUERY_MS" envDefault:"200"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`
}

// AWSConfig holds AWS credentials and the reports bucket.
type AWSConfig struct {
	Region               string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	ReportsBucket        string `env:"AWS_S3_REPORTS_BUCKET" envDefault:"dance-reports"`
	Endpoint             string `env:"AWS_S3_ENDPOINT"`
	PresignExpireMinutes int    `env:"AWS_PRESIGN_EXPIRE_MINUTES" envDefault:"15"`
}

// RecurrenceConfig bounds series expansion.
type RecurrenceConfig struct {
	Horizon int `env:"RECURRENCE_HORIZON" envDefault:"104"` // max occurrences per series
}

// TelemetryConfig enables OTLP tracing.
type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// NotifyConfig holds notification sender settings.
type NotifyConfig struct {
	FromAddress string `env:"NOTIFY_FROM_ADDRESS" envDefault:"noreply@dance.example"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, v := range strings.Split(c.CORSAllowedOrigins, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Recurrence.Horizon <= 0 {
		errs = append(errs, fmt.Errorf("RECURRENCE_HORIZON must be positive, got %d", c.Recurrence.Horizon))
	}
	if c.JWT.ExpireHours <= 0 {
		errs = append(errs, fmt.Errorf("JWT_EXPIRE_HOURS must be positive, got %d", c.JWT.ExpireHours))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.Database.MaxConns))
	}
	return errors.Join(errs...)
}
