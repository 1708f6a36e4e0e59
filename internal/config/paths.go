package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "mcphost"

// Paths contains the standard per-user directories.
type Paths struct {
	Data   string `json:"data"`   // ~/.local/share/mcphost
	Config string `json:"config"` // ~/.config/mcphost
	Cache  string `json:"cache"`  // ~/.cache/mcphost
	State  string `json:"state"`  // ~/.local/state/mcphost
}

// GetPaths returns the standard paths, honoring the XDG variables.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), AppName),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), AppName),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), AppName),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), AppName),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// LogDir is where log files go when file logging is on.
func (p *Paths) LogDir() string {
	return filepath.Join(p.State, "log")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return localAppData()
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(homeDir(), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(localAppData(), "cache")
	}
	return filepath.Join(homeDir(), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(localAppData(), "state")
	}
	return filepath.Join(homeDir(), ".local", "state")
}

func localAppData() string {
	if v := os.Getenv("LOCALAPPDATA"); v != "" {
		return v
	}
	return os.Getenv("APPDATA")
}

// GlobalConfigPath returns the path of the global server file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "mcp.json")
}

// ProjectConfigPath returns the path of the project server file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".mcp.json")
}
