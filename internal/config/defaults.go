package config

import (
	"time"

	"atlasauth/internal/credentials"
)

const (
	// DefaultCallbackTimeout bounds the wait for the browser redirect.
	DefaultCallbackTimeout = 5 * time.Minute

	// DefaultHTTPTimeout is the timeout of REST calls.
	DefaultHTTPTimeout = 30 * time.Second
)

// GetDefaultConfig returns the configuration used when no file exists.
func GetDefaultConfig() Config {
	return Config{
		Environment: EnvironmentProduction,
		Storage: StorageConfig{
			Sites:   BackendFile,
			Secrets: BackendFile,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: credentials.DefaultRedisPrefix,
			},
		},
		OAuth: OAuthConfig{
			CallbackTimeout: DefaultCallbackTimeout,
		},
		HTTP: HTTPConfig{
			Timeout: DefaultHTTPTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
