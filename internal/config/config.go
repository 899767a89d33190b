// Package config loads the daemon configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/difficulty"
)

// Config is the full daemon configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Game   GameConfig   `yaml:"game"`
	Data   DataConfig   `yaml:"data"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects and configures the remote store backend.
type StoreConfig struct {
	// Backend is one of "nats", "postgres", "memory".
	Backend  string         `yaml:"backend"`
	NATS     NATSConfig     `yaml:"nats"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// GameConfig holds the difficulty tuning and the competitive-mode timeout.
type GameConfig struct {
	MinTimeout         float64 `yaml:"min_timeout"`
	MaxTimeout         float64 `yaml:"max_timeout"`
	InitialTimeout     float64 `yaml:"initial_timeout"`
	AdjustmentFactor   float64 `yaml:"adjustment_factor"`
	CompetitiveTimeout float64 `yaml:"competitive_timeout"`
}

// DifficultySettings maps the game tuning onto controller settings.
func (g GameConfig) DifficultySettings() difficulty.Settings {
	return difficulty.Settings{
		MinTimeout:       g.MinTimeout,
		MaxTimeout:       g.MaxTimeout,
		InitialTimeout:   g.InitialTimeout,
		AdjustmentFactor: g.AdjustmentFactor,
	}
}

// DataConfig holds local persistence settings.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration the daemon starts with when no file is
// given.
func Default() *Config {
	defaults := difficulty.DefaultSettings()
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Store: StoreConfig{
			Backend: "memory",
			NATS:    NATSConfig{URL: "nats://localhost:4222", Bucket: "AR_TRAINER"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "artrainer",
				SSLMode:  "disable",
			},
		},
		Game: GameConfig{
			MinTimeout:         defaults.MinTimeout,
			MaxTimeout:         defaults.MaxTimeout,
			InitialTimeout:     defaults.InitialTimeout,
			AdjustmentFactor:   defaults.AdjustmentFactor,
			CompetitiveTimeout: 4.0,
		},
		Data: DataConfig{Dir: "data"},
	}
}

// Load reads the YAML file at path (optional) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("ADDR", cfg.Server.Addr)
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.NATS.URL = getEnv("NATS_URL", cfg.Store.NATS.URL)
	cfg.Store.NATS.Bucket = getEnv("NATS_BUCKET", cfg.Store.NATS.Bucket)
	cfg.Store.Postgres.Host = getEnv("DB_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Port = getEnvAsInt("DB_PORT", cfg.Store.Postgres.Port)
	cfg.Store.Postgres.User = getEnv("DB_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = getEnv("DB_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Postgres.Database = getEnv("DB_NAME", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.SSLMode = getEnv("DB_SSLMODE", cfg.Store.Postgres.SSLMode)
	cfg.Data.Dir = getEnv("DATA_DIR", cfg.Data.Dir)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
