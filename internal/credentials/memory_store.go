package credentials

import (
	"errors"
	"sync"
)

// MemoryStore keeps the record in process memory. It is used when nothing
// may be written to disk and as a test double.
type MemoryStore struct {
	mu    sync.Mutex
	cred  *Credential
	saves int
	// SaveErr, when set, is returned by Save without storing anything.
	SaveErr error
}

// NewMemoryStore returns a store holding cred (which may be nil).
func NewMemoryStore(cred *Credential) *MemoryStore {
	m := &MemoryStore{}
	if cred != nil {
		c := *cred
		m.cred = &c
	}
	return m
}

// Load returns a copy of the held record.
func (m *MemoryStore) Load() *Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil
	}
	c := *m.cred
	return &c
}

// Save replaces the held record.
func (m *MemoryStore) Save(cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if cred == nil {
		return errors.New("cannot save nil credential")
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	c := *cred
	m.cred = &c
	m.saves++
	return nil
}

// Clear drops the held record.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

// Path describes the store.
func (m *MemoryStore) Path() string {
	return "memory"
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
