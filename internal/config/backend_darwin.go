//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.voicepad.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "voicepad-data"
	}
	return filepath.Join(home, "Library", "Application Support", "voicepad")
}

func apiKeyHint(account string) string {
	return " or run: security add-generic-password -U -s voicepad -a " + account + " -w <key>"
}

type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

func (b *darwinBackend) read(key string) (string, bool, error) {
	cmd := exec.Command("defaults", "read", b.domain, key)
	out, err := cmd.CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w (%s)", b.domain, key, err, s)
	}
	return s, true, nil
}

// readAs reads key and converts it with parse. `defaults read` prints -bool
// values as 1 or 0, which strconv.ParseBool accepts.
func readAs[T any](b *darwinBackend, key string, parse func(string) (T, error)) (T, bool, error) {
	var zero T
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return zero, ok, err
	}
	v, err := parse(s)
	if err != nil {
		return zero, true, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return v, true, nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	return readAs(b, key, strconv.Atoi)
}

func (b *darwinBackend) GetBool(key string) (bool, bool, error) {
	return readAs(b, key, strconv.ParseBool)
}

func (b *darwinBackend) write(key, typeFlag, val string) error {
	out, err := exec.Command("defaults", "write", b.domain, key, typeFlag, val).CombinedOutput()
	if err != nil {
		return fmt.Errorf("defaults write %s %s: %w (%s)", b.domain, key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *darwinBackend) SetBool(key string, val bool) error {
	return b.write(key, "-bool", strconv.FormatBool(val))
}

func (b *darwinBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", b.domain, key).Run()
}
