package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"atlasauth/pkg/logging"
)

const (
	userConfigDir  = ".config/atlasauth"
	configFileName = "config.yaml"
)

var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/atlasauth.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath over the defaults and
// validates the result. storage.dir defaults to configPath.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, NewConfigurationError(configFilePath, "io", err.Error())
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, NewConfigurationError(configFilePath, "parse", err.Error())
		}
		logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	}

	config.Storage.Dir = expandHome(config.Storage.Dir)
	if config.Storage.Dir == "" {
		config.Storage.Dir = configPath
	}

	if err := Validate(config); err != nil {
		return Config{}, NewConfigurationError(configFilePath, "validation", err.Error())
	}
	return config, nil
}

// SaveConfig writes config to configPath/config.yaml with 0600 permissions,
// since it may hold client secrets.
func SaveConfig(configPath string, config Config) error {
	if err := os.MkdirAll(configPath, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(configPath, configFileName), data, 0o600)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
