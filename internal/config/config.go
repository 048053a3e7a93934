package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Server
	HTTPPort         int           `env:"HTTP_PORT" default:"8080"`
	Storage          string        `env:"STORAGE" default:"in-memory"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	RedisURL         string        `env:"REDIS_URL"`
	FeedPingInterval time.Duration `env:"FEED_PING_INTERVAL" default:"10s"`
	SeedMockData     bool          `env:"SEED_MOCK_DATA" default:"true"`

	// Client
	APIURL            string        `env:"API_URL" default:"http://localhost:8080"`
	UserID            string        `env:"USER_ID"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" default:"10s"`
	ReloadMinInterval time.Duration `env:"RELOAD_MIN_INTERVAL" default:"250ms"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig загружает конфигурацию из .env (если есть) и переменных окружения
func LoadConfig() (*Config, error) {
	// Отсутствие .env не ошибка: используем переменные окружения процесса
	_ = godotenv.Load(".env")
	return loadFromEnv()
}

// LoadConfigFile загружает конфигурацию из указанного env-файла
func LoadConfigFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// Server
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	loadEnvString(&config.Storage, "STORAGE", "in-memory")
	loadEnvString(&config.DatabaseURL, "DATABASE_URL", "")
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	if err := loadEnvDuration(&config.FeedPingInterval, "FEED_PING_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.SeedMockData, "SEED_MOCK_DATA", true); err != nil {
		return nil, err
	}

	// Client
	loadEnvString(&config.APIURL, "API_URL", "http://localhost:8080")
	loadEnvString(&config.UserID, "USER_ID", "")
	if err := loadEnvDuration(&config.RequestTimeout, "REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReloadMinInterval, "RELOAD_MIN_INTERVAL", 250*time.Millisecond); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")

	return config, nil
}

// Helper functions for type conversion
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = strings.TrimSpace(value)
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate проверяет значения, общие для сервера и клиента
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}

	validStorages := []string{"in-memory", "postgres"}
	if !contains(validStorages, c.Storage) {
		errors = append(errors, fmt.Sprintf("STORAGE must be one of: %s", strings.Join(validStorages, ", ")))
	}
	if c.Storage == "postgres" && c.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL must be set for postgres storage")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.FeedPingInterval <= 0 {
		errors = append(errors, "FEED_PING_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		errors = append(errors, "REQUEST_TIMEOUT must be positive")
	}
	if c.ReloadMinInterval < 0 {
		errors = append(errors, "RELOAD_MIN_INTERVAL must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
