package app

import (
	"os"
	"path/filepath"
)

// Default locations, used when neither the environment nor the command line
// override them.
const (
	DefaultConfigPath = "/etc/snapback/snapback.toml"
	DefaultBaseDir    = "/var/lib/snapback"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SNAPBACK_CONFIG_PATH: config file location (default: /etc/snapback/snapback.toml)
//   - SNAPBACK_HOME: base directory for snapback data (default: /var/lib/snapback)
func GetDefaults() map[string]string {
	baseDir := getBaseDir()
	return map[string]string{
		"config_path": getConfigPath(),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}
}

func getConfigPath() string {
	if path := os.Getenv("SNAPBACK_CONFIG_PATH"); path != "" {
		return path
	}
	return DefaultConfigPath
}

func getBaseDir() string {
	if path := os.Getenv("SNAPBACK_HOME"); path != "" {
		return path
	}
	return DefaultBaseDir
}
