// Package config reads application configuration from environment variables.
package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Trading  TradingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the snapshot cache configuration. An empty URL disables
// caching.
type RedisConfig struct {
	URL string
}

// KafkaConfig holds quote-feed and trade-event topics. Empty brokers disable
// Kafka entirely.
type KafkaConfig struct {
	Brokers     []string
	QuotesTopic string
	TradesTopic string
	GroupID     string
}

// TradingConfig holds ledger defaults.
type TradingConfig struct {
	// InitialCash is the starting balance for accounts created on first
	// access.
	InitialCash decimal.Decimal
}

// Load reads configuration from environment variables.
func Load() *Config {
	initialCash, err := decimal.NewFromString(getEnv("INITIAL_CASH", "10000"))
	if err != nil || !initialCash.IsPositive() {
		initialCash = decimal.NewFromInt(10000)
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:     brokers,
			QuotesTopic: getEnv("KAFKA_QUOTES_TOPIC", "market-quotes"),
			TradesTopic: getEnv("KAFKA_TRADES_TOPIC", "paper-trades"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "paper-engine"),
		},
		Trading: TradingConfig{
			InitialCash: initialCash,
		},
	}
}

// getEnv reads an environment variable with a fallback default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
