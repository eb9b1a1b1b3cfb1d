package dirs

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "videograb"

// AppName returns the canonical application name for directory paths.
func AppName() string {
	return appName
}

// ConfigDir returns the directory searched for config.{yaml,json,toml}.
// - Linux: $XDG_CONFIG_HOME/videograb or ~/.config/videograb
// - macOS: ~/Library/Application Support/videograb
// - Windows: %AppData%/videograb
func ConfigDir() (string, error) {
	return platformDir("XDG_CONFIG_HOME", ".config", "Application Support", os.UserConfigDir)
}

func platformDir(xdgVar, linuxDefault, macDir string, fallback func() (string, error)) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", macDir, appName), nil
	case "linux":
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, linuxDefault, appName), nil
	default:
		base, err := fallback()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, appName), nil
	}
}
