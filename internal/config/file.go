package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileBackend stores config in a TOML file, one table per key prefix:
//
//	[router]
//	cooldown = "5m"
//
// It is the default on Linux and other non-macOS platforms.
type fileBackend struct {
	path string
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	if _, err := toml.DecodeFile(b.path, &b.data); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read config file, using default values", "path", b.path, "error", err)
		}
		b.data = make(map[string]any)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(b.data); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, buf.Bytes(), 0o600)
}

// lookup walks the dotted key through nested tables.
func (b *fileBackend) lookup(key string) (any, bool) {
	var cur any = b.data
	for _, part := range strings.Split(key, ".") {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = table[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// table returns the table holding key's last segment, creating parents.
func (b *fileBackend) table(key string) (map[string]any, string) {
	parts := strings.Split(key, ".")
	t := b.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := t[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			t[part] = next
		}
		t = next
	}
	return t, parts[len(parts)-1]
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case int64, float64, bool:
		return fmt.Sprint(val), true, nil
	default:
		return "", true, fmt.Errorf("%s: unsupported TOML value of type %T", key, v)
	}
}

// Set stores val with its TOML type. Durations are written as strings.
func (b *fileBackend) Set(key string, val any) error {
	t, k := b.table(key)
	switch v := val.(type) {
	case int:
		t[k] = int64(v)
	case string, bool, float64:
		t[k] = v
	default:
		t[k] = fmt.Sprint(v)
	}
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	t, k := b.table(key)
	delete(t, k)
	return b.save()
}
