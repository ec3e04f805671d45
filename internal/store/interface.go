package store

import "context"

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // File exists but no items table
	StateVersionMismatch                   // Schema exists but wrong version
	StateReady                             // Initialized and at target version
)

// String returns a human-readable state name for CLI and status output.
func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version-mismatch"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Store defines the itemdeck datastore contract. Every call manages its own
// connection; there is no session to open or close between calls.
// Implementations must be safe for concurrent use, though concurrent writes
// rely entirely on the engine's own locking (last writer wins).
type Store interface {
	// EnsureSchema creates the items table if absent. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpgradeSchema applies the additive migration when the stored schema
	// version is below target. A target at or below the stored version is
	// a silent no-op.
	UpgradeSchema(ctx context.Context, target int) error

	// SchemaVersion returns the stored schema version (0 for a fresh
	// database). Allowed in read-only mode.
	SchemaVersion(ctx context.Context) (int, error)

	// Insert adds one item and returns the id the datastore assigned.
	Insert(ctx context.Context, item Item) (int64, error)

	// Update replaces name and description for the row matching id.
	// A missing id is a silent no-op.
	Update(ctx context.Context, id int64, item Item) error

	// Delete removes the row matching id. A missing id is a silent no-op.
	Delete(ctx context.Context, id int64) error

	// ListAll returns every row in the table, in whatever order the
	// engine produces. Allowed in read-only mode.
	ListAll(ctx context.Context) ([]Item, error)

	// CheckState reports the current state of the datastore file relative
	// to TargetSchemaVersion. Allowed in read-only mode.
	CheckState(ctx context.Context) (StoreState, error)

	// SetReadOnly toggles read-only mode for the remainder of the process
	// lifetime. While active, every mutating call fails with ErrReadOnly.
	SetReadOnly(readOnly bool)
}
