//go:build !js || !wasm

package env

import (
	"os"
	"strconv"
)

// Get retrieves an environment variable
func Get(key string) (string, bool) {
	value := os.Getenv(key)
	if value == "" {
		return "", false
	}
	return value, true
}

// GetOrDefault retrieves an environment variable with a default value
func GetOrDefault(key, defaultValue string) string {
	if value, ok := Get(key); ok {
		return value
	}
	return defaultValue
}

// GetBool reports whether key is set to a truthy value ("1", "true", "yes").
// Unset or unparsable values return defaultValue.
func GetBool(key string, defaultValue bool) bool {
	value, ok := Get(key)
	if !ok {
		return defaultValue
	}
	if value == "yes" {
		return true
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
