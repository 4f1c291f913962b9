package config

import (
	"fmt"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns every config key with its current value. Secrets are
// reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch v := s.extract(cfg).(type) {
		case string:
			if s.secret {
				info.Value = "(unset)"
				if v != "" {
					info.Value = "(set)"
				}
			} else {
				info.Value = v
			}
		case time.Duration:
			info.Value = v.String()
		default:
			info.Value = fmt.Sprintf("%v", v)
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config set; use config set-secret or environment variable %s", key, s.env)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	return b.Set(key, v)
}

// UnsetKey removes a key from the platform backend so its default applies.
func UnsetKey(key string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot unset secret %q via config", key)
	}
	return newPlatformBackend().Delete(key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
