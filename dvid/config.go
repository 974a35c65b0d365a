package dvid

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
	Tera = 1 << 40
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keys are case-insensitive.
type Config map[string]interface{}

// SetAll adds all the given settings to the configuration.
func (c *Config) SetAll(kv map[string]interface{}) {
	if *c == nil {
		*c = make(Config, len(kv))
	}
	for k, v := range kv {
		(*c)[strings.ToLower(k)] = v
	}
}

// Set sets a single setting.
func (c *Config) Set(key string, value interface{}) {
	if *c == nil {
		*c = make(Config)
	}
	(*c)[strings.ToLower(key)] = value
}

// GetAll returns the settings.
func (c Config) GetAll() map[string]interface{} {
	return c
}

// GetString returns a string setting with found set to false if it's not present.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[strings.ToLower(key)]
	if !found {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("setting %q must be a string, got %v", key, v)
	}
	return s, true, nil
}

// GetBool returns a bool setting with found set to false if it's not present.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[strings.ToLower(key)]
	if !found {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, fmt.Errorf("setting %q must be a bool, got %v", key, v)
	}
	return b, true, nil
}

// GetInt returns an int setting with found set to false if it's not present.
// TOML decodes integers as int64 so all integer kinds are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[strings.ToLower(key)]
	if !found {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case int32:
		return int(n), true, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), true, nil
		}
	}
	return 0, true, fmt.Errorf("setting %q must be an integer, got %v", key, v)
}

// StoreConfig is a store-specific configuration where each store implementation
// defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is a simple name describing the engine, e.g., "badger"
	Engine string
}

// ConvertToAbsolute converts a possibly relative path to an absolute path
// relative to the given base directory.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}
