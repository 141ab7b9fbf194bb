package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the escrow daemon.
type Config struct {
	Database Database
	API      API
	Factory  Factory
	Log      Log
}

// Database configuration.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// API configuration.
type API struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Factory configuration: the one-time parameters FactoryRegistry.Initialize
// needs, plus the fee bank's initial whitelist. FeeEnabled, ResolverFee and
// AccessTokenThreshold are loaded but not read by cmd/escrowd; CreateSource
// takes its fee policy from each request's FeeConfig.
type Factory struct {
	OwnerAddress         string
	SrcRescueDelay       uint32
	DstRescueDelay       uint32
	FeeEnabled           bool
	ResolverFee          uint64
	AccessTokenThreshold uint64
	WhitelistAddresses   []string
}

// Log configuration.
type Log struct {
	Level  string
	Format string // "text" or "json"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	return &Config{
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "fusion_escrow"),
			Password: getEnvRequired("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "fusion_escrow"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		API: API{
			Port:            getEnvInt("API_PORT", 8080),
			Host:            getEnv("API_HOST", "localhost"),
			ReadTimeout:     getEnvDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("API_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvDuration("API_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Factory: Factory{
			OwnerAddress:         getEnvRequired("FACTORY_OWNER_ADDRESS"),
			SrcRescueDelay:       uint32(getEnvUint64("FACTORY_SRC_RESCUE_DELAY", 604800)), // 7 days
			DstRescueDelay:       uint32(getEnvUint64("FACTORY_DST_RESCUE_DELAY", 604800)),
			FeeEnabled:           getEnv("FEE_ENABLED", "false") == "true",
			ResolverFee:          getEnvUint64("FEE_RESOLVER_FEE", 0),
			AccessTokenThreshold: getEnvUint64("FEE_ACCESS_TOKEN_THRESHOLD", 0),
			WhitelistAddresses:   getEnvList("FEE_WHITELIST_ADDRESSES"),
		},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}, nil
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Required environment variable " + key + " is not set")
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable into a slice,
// used for the fee bank's initial resolver whitelist. Empty entries are
// dropped so a trailing comma or unset variable yields an empty slice
// rather than a slice containing "".
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
