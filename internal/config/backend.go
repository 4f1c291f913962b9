package config

// ConfigBackend is the platform store for non-secret settings: the defaults
// database on macOS, a TOML file elsewhere. Get returns the raw text of a
// value; the key table parses it. Set receives the already-parsed value so
// backends can store it with its native type.
type ConfigBackend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}
