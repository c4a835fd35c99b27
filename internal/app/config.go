package app

import (
	"atlasauth/internal/config"
	"atlasauth/internal/dancer"
	"atlasauth/internal/login"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// Custom configuration directory (optional)
	ConfigPath string

	// Settings skips loading from ConfigPath when set
	Settings *config.Config

	// WorkDir is where git token discovery runs; empty means the process
	// working directory
	WorkDir string

	// Optional collaborators supplied by the caller
	Notifier      login.Notifier
	Analytics     login.Analytics
	BrowserOpener dancer.BrowserOpener

	// Env looks up environment variables; defaults to os.Getenv
	Env func(string) string
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
