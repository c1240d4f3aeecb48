package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// AppName names the hb-service config directories.
	AppName = "hb-service"
	// ConfigFileName is the hb-service config file looked up in ConfigDirs.
	ConfigFileName = "hb-service.toml"
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "UIX"
	// LogFileName is the shared log file under the storage path.
	LogFileName = "homebridge.log"
	// BridgeConfigFileName is the bridge configuration under the storage path.
	BridgeConfigFileName = "config.json"
)

// ConfigDirs lists the directories searched for ConfigFileName, most specific
// first. The per-user directory comes before the system one so an operator can
// try settings without touching the installed service.
func ConfigDirs(goos, home string, getenv func(string) string) []string {
	var dirs []string

	switch goos {
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" && home != "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		if appData != "" {
			dirs = append(dirs, filepath.Join(appData, AppName))
		}
		if pd := getenv("ProgramData"); pd != "" {
			dirs = append(dirs, filepath.Join(pd, AppName))
		}

	case "darwin":
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Application Support", AppName))
		}
		dirs = append(dirs, "/usr/local/etc/"+AppName)

	default:
		if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
			dirs = append(dirs, filepath.Join(xdg, AppName))
		} else if home != "" {
			dirs = append(dirs, filepath.Join(home, ".config", AppName))
		}
		if goos == "freebsd" {
			dirs = append(dirs, "/usr/local/etc/"+AppName)
		} else {
			dirs = append(dirs, "/etc/"+AppName)
		}
	}

	return dirs
}

// DefaultConfigPath returns where `validate --init` writes a new config file
// for the current user.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dirs := ConfigDirs(runtime.GOOS, home, os.Getenv)
	return filepath.Join(dirs[0], ConfigFileName), nil
}

// DefaultStoragePath returns the bridge storage directory for goos. Service
// installs on Linux and FreeBSD live under /var/lib; elsewhere the bridge keeps
// its data in the user's home.
func DefaultStoragePath(goos, home string) string {
	switch goos {
	case "linux", "freebsd":
		return "/var/lib/homebridge"
	default:
		return filepath.Join(home, ".homebridge")
	}
}
