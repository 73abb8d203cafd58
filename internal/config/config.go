// Package config loads the serving-layer configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimitRPS    int           `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	AdminJWTSecret  string        `yaml:"admin_jwt_secret"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the prediction sink backend. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the descriptor mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ModelsConfig controls model artifact loading and inference behaviour.
type ModelsConfig struct {
	Dir              string        `yaml:"dir"`
	DefaultActive    string        `yaml:"default_active"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	// MinMemoryMB is the total system memory below which only the mock
	// model is activated at startup.
	MinMemoryMB uint64 `yaml:"min_memory_mb"`
	// RecalibrateSchedule is a cron expression for the residual band
	// recalibration job.
	RecalibrateSchedule string `yaml:"recalibrate_schedule"`
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Models   ModelsConfig   `yaml:"models"`
}

// Default returns the configuration used when no file or environment is
// present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Models: ModelsConfig{
			Dir:                 "ml_artifacts",
			DefaultActive:       "mock",
			InferenceTimeout:    5 * time.Second,
			MinMemoryMB:         1024,
			RecalibrateSchedule: "@every 1h",
		},
	}
}

// Load reads CONFIG_PATH (default config.yaml) when present and applies
// environment overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Models.InferenceTimeout <= 0 {
		cfg.Models.InferenceTimeout = 5 * time.Second
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("MODELS_DEFAULT_ACTIVE"); v != "" {
		cfg.Models.DefaultActive = v
	}
	if v := os.Getenv("INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Models.InferenceTimeout = d
		}
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Server.AdminJWTSecret = v
	}
}
