// Package paths resolves where memory-mcp looks for its config file and
// writes its logs.
//
// Resolution order:
//  1. If ~/.memory-mcp/ exists → dot-directory layout (config and logs under it)
//  2. If XDG_CONFIG_HOME or XDG_STATE_HOME is set → XDG layout
//  3. Otherwise → ~/.memory-mcp/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	appName = "memory-mcp"

	// ConfigFileName is the config file looked up in the config directory.
	ConfigFileName = "mcpconfig.toml"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	dotDir    bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dotDir := filepath.Join(home, "."+appName)

	if info, err := os.Stat(dotDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{configDir: dotDir, stateDir: dotDir, dotDir: true}
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appName),
			stateDir:  filepath.Join(xdgState, appName),
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{configDir: dotDir, stateDir: dotDir, dotDir: true}
	return resolved, nil
}

// ConfigDir returns the directory holding mcpconfig.toml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to the user-level mcpconfig.toml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// IsDotDirLayout reports whether ~/.memory-mcp/ is used for everything.
func IsDotDirLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.dotDir
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
