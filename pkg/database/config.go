package database

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds database connection settings.
type Config struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"sendgate"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_NAME" envDefault:"sendgate"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Connection pool settings.
	MaxConns int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`
}

// LoadConfigFromEnv loads database configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing database environment: %w", err)
	}
	return cfg, nil
}

// DSN returns the key=value connection string for pgx.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
