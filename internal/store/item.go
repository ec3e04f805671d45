package store

import "errors"

// TargetSchemaVersion is the schema version the current binary expects.
// Version 1 is the base items table; version 2 adds the new_column column.
const TargetSchemaVersion = 2

// ErrReadOnly is returned by mutating operations while read-only mode is
// active. The datastore is never touched in that case.
var ErrReadOnly = errors.New("store: read-only mode active")

// Item is a row in the items table.
type Item struct {
	// ID is assigned by the datastore on insert. Zero before insertion,
	// immutable after.
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Extra maps to the new_column column added by the v2 schema upgrade.
	// Nil when the column doesn't exist yet or holds NULL; rows inserted
	// before the upgrade are not backfilled.
	Extra *string `json:"new_column,omitempty"`
}
