package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Resy platform credentials
	Resy ResyConfig

	// OpenTable automation sidecar
	OpenTable OpenTableConfig

	// Mailbox (IMAP) monitoring
	Mailbox MailboxConfig

	// Sniper timing
	Sniper SniperConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// ResyConfig holds Resy API credentials. The auth token is refreshed by the
// adapter; the values here are only the initial state.
type ResyConfig struct {
	APIKey          string
	AuthToken       string
	Email           string
	Password        string
	PaymentMethodID string
	BaseURL         string
}

// OpenTableConfig holds the browser-automation sidecar endpoint. OpenTable
// has no public booking API; a separate headless-browser service does the
// driving and this process talks to it over HTTP.
type OpenTableConfig struct {
	AutomationURL string
	Timeout       time.Duration
}

// MailboxConfig holds IMAP credentials for the notification mailbox.
type MailboxConfig struct {
	Host         string // host:port, e.g. imap.gmail.com:993
	Username     string
	Password     string
	PollInterval time.Duration
}

// SniperConfig holds the rapid-poll timing knobs.
type SniperConfig struct {
	PollInterval       time.Duration
	DefaultMaxPollSecs int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Resy: ResyConfig{
			APIKey:          getEnv("RESY_API_KEY", ""),
			AuthToken:       getEnv("RESY_AUTH_TOKEN", ""),
			Email:           getEnv("RESY_EMAIL", ""),
			Password:        getEnv("RESY_PASSWORD", ""),
			PaymentMethodID: getEnv("RESY_PAYMENT_METHOD_ID", ""),
			BaseURL:         getEnv("RESY_BASE_URL", "https://api.resy.com"),
		},
		OpenTable: OpenTableConfig{
			AutomationURL: getEnv("OPENTABLE_AUTOMATION_URL", ""),
			Timeout:       time.Duration(getEnvAsInt("OPENTABLE_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Mailbox: MailboxConfig{
			Host:         getEnv("MAILBOX_IMAP_HOST", "imap.gmail.com:993"),
			Username:     getEnv("MAILBOX_EMAIL", ""),
			Password:     getEnv("MAILBOX_APP_PASSWORD", ""),
			PollInterval: time.Duration(getEnvAsInt("MAILBOX_POLL_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Sniper: SniperConfig{
			PollInterval:       time.Duration(getEnvAsInt("SNIPER_POLL_INTERVAL_MS", 500)) * time.Millisecond,
			DefaultMaxPollSecs: getEnvAsInt("SNIPER_MAX_POLL_DURATION_SECONDS", 300),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Sniper.PollInterval <= 0 {
		return fmt.Errorf("SNIPER_POLL_INTERVAL_MS must be positive")
	}

	// Resy credentials are only required once requests are submitted, but an
	// API key with no auth token is always a misconfiguration.
	if c.Resy.APIKey == "" && c.Resy.AuthToken != "" {
		return fmt.Errorf("RESY_API_KEY is required when RESY_AUTH_TOKEN is set")
	}

	return nil
}

// MailboxEnabled reports whether IMAP monitoring is configured.
func (c *Config) MailboxEnabled() bool {
	return c.Mailbox.Username != "" && c.Mailbox.Password != ""
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
