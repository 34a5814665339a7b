// Package app provides the application initialization and wiring.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"
	"github.com/spf13/viper"
)

// DefaultDataDir returns the default data directory path.
// Uses ~/.aiastra for user installations, /var/lib/aiastra as fallback.
func DefaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".aiastra")
	}
	return "/var/lib/aiastra"
}

// ConfigureViper sets up viper with standard config file search paths.
// Config file: aiastra.toml
// Search paths (in order): explicit path, /etc/aiastra, ~/.config/aiastra,
// current directory.
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("aiastra")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/aiastra")
		v.AddConfigPath("$HOME/.config/aiastra")
		v.AddConfigPath(".")
	}
}

// secureRuntimeDir returns a directory for runtime files (PID file, control
// requests). Prefers XDG_RUNTIME_DIR over a dot directory in $HOME.
func secureRuntimeDir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dir := filepath.Join(runtimeDir, "aiastra")
		if err := os.MkdirAll(dir, 0700); err == nil {
			return dir, nil
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".aiastra", "run")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return dir, nil
}

// createPidFile writes the daemon PID and returns the file path, or "" when
// no location is writable.
func createPidFile(log zerowrap.Logger) string {
	pid := os.Getpid()

	var locations []string
	if runtimeDir, err := secureRuntimeDir(); err == nil {
		locations = append(locations, filepath.Join(runtimeDir, "aiastra.pid"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, ".aiastra", "aiastra.pid"))
	}
	locations = append(locations, filepath.Join(os.TempDir(), "aiastra.pid"))

	for _, location := range locations {
		if err := os.MkdirAll(filepath.Dir(location), 0700); err != nil {
			continue
		}
		if err := os.WriteFile(location, fmt.Appendf(nil, "%d", pid), 0600); err == nil {
			log.Debug().Str("pid_file", location).Int("pid", pid).Msg("created PID file")
			return location
		}
	}

	log.Warn().Int("pid", pid).Msg("failed to create PID file in any location")
	return ""
}

func removePidFile(pidFile string, log zerowrap.Logger) {
	if err := os.Remove(pidFile); err != nil {
		log.Warn().Err(err).Str("pid_file", pidFile).Msg("failed to remove PID file")
	}
}

// findPidFile locates the running daemon's PID file.
func findPidFile() string {
	var locations []string
	if runtimeDir, err := secureRuntimeDir(); err == nil {
		locations = append(locations, filepath.Join(runtimeDir, "aiastra.pid"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, ".aiastra", "aiastra.pid"))
	}
	locations = append(locations, filepath.Join(os.TempDir(), "aiastra.pid"))

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}
