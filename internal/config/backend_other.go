//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to a path under the
// home directory, or the working directory when there is no home.
func xdgDir(env, homeRel string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, filepath.FromSlash(homeRel))
	}
	return "."
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local/share"), "voicepad")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "voicepad", "config.toml")
}

func apiKeyHint(account string) string {
	return " or add it to " + secretsFilePath() + " under voicepad." + account
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}
