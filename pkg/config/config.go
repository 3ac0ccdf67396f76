// Package config loads process configuration: connection settings from
// the environment, operational limits from an optional YAML profile.
package config

import "os"

// Config holds server configuration. Empty backend URLs select the
// in-process implementations (Lite Mode).
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	AMQPURL       string
	EncryptionKey string
	JWTSecret     string
	OTLPEndpoint  string
	LimitsPath    string
	PolicyBundle  string
	ArchiveBucket string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          envOr("PORT", "8080"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		AMQPURL:       os.Getenv("AMQP_URL"),
		EncryptionKey: os.Getenv("ARBITER_ENCRYPTION_KEY"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LimitsPath:    os.Getenv("LIMITS_PROFILE"),
		PolicyBundle:  os.Getenv("POLICY_BUNDLE"),
		ArchiveBucket: os.Getenv("AUDIT_ARCHIVE_BUCKET"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
