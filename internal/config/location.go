package config

import (
	"os"
	"path/filepath"
)

// ConfigPathEnv overrides the config file location.
const ConfigPathEnv = "FXR_CONFIG"

// GetConfigPath returns the configuration file path: FXR_CONFIG when set,
// otherwise ~/.fxr/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(ConfigPathEnv); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".fxr", "config"), nil
}
