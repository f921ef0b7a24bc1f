//go:build js && wasm

package credentials

import (
	"encoding/json"
	"fmt"

	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/syumai/workers/cloudflare/kv"
)

const (
	kvNamespace = "copilot_proxy_kv"
	kvKey       = "copilot_proxy_credentials"
)

// CloudflareKVStore implements Store on a Cloudflare KV namespace. It holds
// the same single record as FileStore.
type CloudflareKVStore struct {
	kvStore *kv.Namespace
}

// NewCloudflareKVStore opens the KV namespace bound in wrangler.toml.
func NewCloudflareKVStore() (*CloudflareKVStore, error) {
	kvStore, err := kv.NewNamespace(kvNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &CloudflareKVStore{kvStore: kvStore}, nil
}

// Load retrieves the record from KV.
func (c *CloudflareKVStore) Load() *Credential {
	credsJSON, err := c.kvStore.GetString(kvKey, nil)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("Failed to read credentials from KV")
		return nil
	}
	if credsJSON == "" {
		return nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(credsJSON), &cred); err != nil {
		logger.Get().Warn().Err(err).Msg("Ignoring malformed credentials in KV")
		return nil
	}
	if err := cred.Validate(); err != nil {
		logger.Get().Warn().Err(err).Msg("Ignoring invalid credentials in KV")
		return nil
	}
	return &cred
}

// Save stores the record in KV.
func (c *CloudflareKVStore) Save(cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("refusing to save credential: %w", err)
	}
	credsJSON, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := c.kvStore.PutString(kvKey, string(credsJSON), nil); err != nil {
		return fmt.Errorf("failed to store credentials in KV: %w", err)
	}
	logger.Get().Debug().Msg("Saved credentials to Cloudflare KV")
	return nil
}

// Clear deletes the record from KV.
func (c *CloudflareKVStore) Clear() error {
	if err := c.kvStore.Delete(kvKey); err != nil {
		return fmt.Errorf("failed to delete credentials from KV: %w", err)
	}
	return nil
}

// Path names the KV location.
func (c *CloudflareKVStore) Path() string {
	return "kv://" + kvNamespace + "/" + kvKey
}
