package credentials

// Store persists a single Credential record.
//
// Implementations do not cache: every Load reflects the backing storage, and
// every Save replaces the whole record so readers never see a mix of old and
// new fields.
type Store interface {
	// Load returns the stored record, or nil when there is none or it cannot
	// be parsed. It never fails.
	Load() *Credential

	// Save replaces the stored record.
	Save(cred *Credential) error

	// Clear removes the stored record. Clearing an empty store is a no-op.
	Clear() error

	// Path describes where the record lives, for diagnostics.
	Path() string
}
