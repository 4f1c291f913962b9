//go:build !darwin

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

var errNoSecret = errors.New("secret not found")

// secrets.toml lives next to config.toml but is only readable by the user:
//
//	[fitgate]
//	"deepseek.api_key" = "sk-..."
func secretsFilePath() string {
	return filepath.Join(configDir(), "secrets.toml")
}

func readSecrets(path string) (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	if _, err := toml.DecodeFile(path, &secrets); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return secrets, nil
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	v, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, account, errNoSecret)
	}
	return []byte(v), nil
}

// keychainSet rewrites the secrets file through a temp file so a crash
// never leaves it truncated.
func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	secrets, err := readSecrets(path)
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(secrets); err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".secrets-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
