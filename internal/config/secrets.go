package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// secretService is the keychain service name all secrets are stored under.
const secretService = "fitgate"

const apiTokenAccount = "api_token"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetSecret stores a secret config key (e.g. deepseek.api_key) in the
// platform secret store.
func SetSecret(key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if !s.secret {
		return fmt.Errorf("%q is not a secret; use config set", key)
	}
	return keychainSet(secretService, key, value)
}

// APIToken returns the bearer token protecting the HTTP API, or "" when
// none has been generated yet.
func APIToken() string {
	v, err := keychainReader{}.Get(secretService, apiTokenAccount)
	if err != nil {
		return ""
	}
	return v
}

// EnsureAPIToken returns the stored API token, generating and storing a new
// random one on first use.
func EnsureAPIToken() (string, error) {
	if t := APIToken(); t != "" {
		return t, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	t := hex.EncodeToString(buf)
	if err := keychainSet(secretService, apiTokenAccount, t); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return t, nil
}
