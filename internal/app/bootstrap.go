package app

import (
	"fmt"
	"io"
	"os"

	"atlasauth/internal/config"
	"atlasauth/pkg/logging"
)

// Application owns the services of one atlasauth process.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, configures logging and
// initializes the services. Logs go to stderr so command output on stdout
// stays clean.
func NewApplication(cfg *Config) (*Application, error) {
	return newApplication(cfg, os.Stderr)
}

func newApplication(cfg *Config, logOutput io.Writer) (*Application, error) {
	if cfg.Settings == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			path, err := config.GetDefaultConfigPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve configuration path: %w", err)
			}
			configPath = path
		}

		settings, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
		cfg.Settings = &settings
	}

	level := logging.ParseLevel(cfg.Settings.Log.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, logOutput)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services returns the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Close stops background work and releases the stores.
func (a *Application) Close() error {
	return a.services.Close()
}
