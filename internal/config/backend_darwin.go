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

const defaultsDomain = "com.fitgate.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "fitgate")
	}
	return "fitgate-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: fitgate, account: deepseek.api_key)"
}

// defaultsBackend stores settings in the user defaults database via the
// defaults(1) tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b defaultsBackend) Get(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err == nil {
		return out, true, nil
	}
	// defaults exits 1 when the domain or key does not exist.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
}

func (b defaultsBackend) Set(key string, val any) error {
	var typ, s string
	switch v := val.(type) {
	case int:
		typ, s = "-int", strconv.Itoa(v)
	case bool:
		typ, s = "-bool", strconv.FormatBool(v)
	case float64:
		typ, s = "-float", strconv.FormatFloat(v, 'g', -1, 64)
	default:
		typ, s = "-string", fmt.Sprint(v)
	}
	if out, err := b.run("write", b.domain, key, typ, s); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b defaultsBackend) Delete(key string) error {
	if _, ok, err := b.Get(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
