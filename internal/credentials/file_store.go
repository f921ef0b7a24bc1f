package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// DefaultRelativePath is where the record lives under the user's home directory.
const DefaultRelativePath = ".config/copilot-proxy/credentials.json"

// FileStore implements Store using a JSON file readable only by its owner.
type FileStore struct {
	filePath string
}

// DefaultPath returns the default credentials location under the home directory.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultRelativePath), nil
}

// NewFileStore creates a file-backed store. An empty path selects DefaultPath.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{filePath: path}, nil
}

// Load reads the record from disk. Missing, unreadable or malformed files
// yield nil.
func (f *FileStore) Load() *Credential {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Get().Warn().Err(err).Str("path", f.filePath).Msg("Failed to read credentials file")
		}
		return nil
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		logger.Get().Warn().Err(err).Str("path", f.filePath).Msg("Ignoring malformed credentials file")
		return nil
	}
	if err := cred.Validate(); err != nil {
		logger.Get().Warn().Err(err).Str("path", f.filePath).Msg("Ignoring invalid credentials file")
		return nil
	}
	return &cred
}

// Save writes the record to a temporary file next to the target and renames
// it into place, so concurrent readers see either the old or the new record.
func (f *FileStore) Save(cred *Credential) error {
	if cred == nil {
		return errors.New("cannot save nil credential")
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("refusing to save credential: %w", err)
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict credentials file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials file: %w", err)
	}
	if err := os.Rename(tmpName, f.filePath); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", f.filePath, err)
	}
	if err := os.Chmod(f.filePath, 0o600); err != nil {
		return fmt.Errorf("failed to restrict credentials file permissions: %w", err)
	}

	logger.Get().Debug().Str("path", f.filePath).Msg("Saved credentials")
	return nil
}

// Clear deletes the credentials file.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file %s: %w", f.filePath, err)
	}
	return nil
}

// Path returns the credentials file location.
func (f *FileStore) Path() string {
	return f.filePath
}
