package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Ledger configuration
	LedgerMode   string // "memory" for the in-process ledger
	OperatorSeed string // hex ed25519 seed for the operator wallet

	// Fan-out configuration
	MintWorkers     int
	MintTimeout     time.Duration
	MintRetries     int
	MintRetryDelay  time.Duration
	FanoutLockTTL   time.Duration
	StatusCacheTTL  time.Duration
	ExpiryCheckTick time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Ledger
		LedgerMode:   getEnv("LEDGER_MODE", "memory"),
		OperatorSeed: getEnv("OPERATOR_SEED", ""),

		// Fan-out
		MintWorkers:     getEnvAsInt("MINT_WORKERS", 8),
		MintTimeout:     getEnvAsDuration("MINT_TIMEOUT", "30s"),
		MintRetries:     getEnvAsInt("MINT_RETRIES", 3),
		MintRetryDelay:  getEnvAsDuration("MINT_RETRY_DELAY", "500ms"),
		FanoutLockTTL:   getEnvAsDuration("FANOUT_LOCK_TTL", "10m"),
		StatusCacheTTL:  getEnvAsDuration("STATUS_CACHE_TTL", "2s"),
		ExpiryCheckTick: getEnvAsDuration("EXPIRY_CHECK_TICK", "30s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
