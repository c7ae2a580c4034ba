package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Dir is the default configuration directory, $XDG_CONFIG_HOME/cardmask or
// its platform equivalent.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cardmask")
	}
	return filepath.Join(".", ".cardmask")
}

// ConfigPath returns CARDMASK_CONFIG or config.yaml under Dir.
func ConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// JobsDir returns CARDMASK_JOBS_DIR or a jobs directory next to the config
// file.
func JobsDir() string {
	if p := os.Getenv(EnvJobsDir); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(ConfigPath()), "jobs")
}

// ExpandHome resolves a leading ~ to the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
