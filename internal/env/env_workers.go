//go:build js && wasm

package env

import (
	"strconv"

	"github.com/syumai/workers/cloudflare"
)

// Get retrieves an environment variable from Cloudflare Workers environment
func Get(key string) (string, bool) {
	value := cloudflare.Getenv(key)
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

// GetBool reports whether key is set to a truthy value.
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
