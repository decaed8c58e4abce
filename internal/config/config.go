// Package config manages application configuration
package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSecretKey signs tokens when MINGLE_SECRET_KEY is unset. It is
// public, so production refuses to start with it.
const DefaultSecretKey = "dev-secret-key-change-in-production"

// ErrDefaultSecret is returned by Validate in production without a real secret
var ErrDefaultSecret = errors.New("MINGLE_SECRET_KEY must be set in production")

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"

	// Database
	DatabaseURL string

	// Security
	SecretKey     string // For signing player reconnect tokens
	TokenDuration time.Duration

	// Game rules
	FinderReward      int
	FoundReward       int
	WrongGuessPenalty int
	DefaultMaxPlayers int

	// Realtime
	ThrottleInterval time.Duration
	AllowedOrigin    string // empty allows any origin
	Debug            bool
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}

	return &Config{
		Port:              getEnv("MINGLE_PORT", "8080"),
		Environment:       getEnv("MINGLE_ENV", "development"),
		DatabaseURL:       getEnv("MINGLE_DATABASE_URL", "mingle.db"),
		SecretKey:         getEnv("MINGLE_SECRET_KEY", DefaultSecretKey),
		TokenDuration:     getDurationEnv("MINGLE_TOKEN_DURATION", 12*time.Hour),
		FinderReward:      getIntEnv("MINGLE_FINDER_REWARD", 100),
		FoundReward:       getIntEnv("MINGLE_FOUND_REWARD", 0),
		WrongGuessPenalty: getIntEnv("MINGLE_WRONG_GUESS_PENALTY", 10),
		DefaultMaxPlayers: getIntEnv("MINGLE_DEFAULT_MAX_PLAYERS", 50),
		ThrottleInterval:  getDurationEnv("MINGLE_THROTTLE_INTERVAL", 5*time.Second),
		AllowedOrigin:     getEnv("MINGLE_ALLOWED_ORIGIN", ""),
		Debug:             getBoolEnv("MINGLE_DEBUG", false),
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects settings that are only safe for local development
func (c *Config) Validate() error {
	if c.IsProduction() && (c.SecretKey == "" || c.SecretKey == DefaultSecretKey) {
		return ErrDefaultSecret
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
