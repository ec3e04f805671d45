// Package sqlite provides an items store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/maloquacious/itemdeck/internal/logger"
	"github.com/maloquacious/itemdeck/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite.
// Every operation opens its own connection, runs its statement(s), and
// releases the connection on every exit path. There is no pooling; the
// engine's own locking is the only coordination between concurrent calls.
type SQLiteStore struct {
	dbPath string
	log    logger.Logger
	warn   func(msg string, args ...any)

	mu       sync.RWMutex
	readOnly bool
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithReadOnly sets the initial read-only mode. While active, every
// mutating operation fails with store.ErrReadOnly before a connection
// is opened.
func WithReadOnly(readOnly bool) Option {
	return func(s *SQLiteStore) {
		s.readOnly = readOnly
	}
}

// WithLogger replaces the default logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		s.log = l
	}
}

// WithWarnFunc sets the hook that receives connection-close failures.
// Close failures never abort the operation they follow; they are reported
// here so callers can observe a failed release instead of losing it.
// Defaults to the store logger's Warn.
func WithWarnFunc(fn func(msg string, args ...any)) Option {
	return func(s *SQLiteStore) {
		s.warn = fn
	}
}

// New creates a new SQLiteStore for the database file at dbPath.
func New(dbPath string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		dbPath: dbPath,
		log:    logger.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.warn == nil {
		s.warn = s.log.Warn
	}
	return s
}

// SetReadOnly toggles read-only mode for the remainder of the process
// lifetime. The flag is not persisted.
func (s *SQLiteStore) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	s.readOnly = readOnly
	s.mu.Unlock()
}

// rejectIfReadOnly fails mutating operations while read-only mode is on.
// The check runs before any connection is opened, so a rejected call never
// touches the datastore.
func (s *SQLiteStore) rejectIfReadOnly(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readOnly {
		return fmt.Errorf("%s: %w", op, store.ErrReadOnly)
	}
	return nil
}

// withConn opens a connection, applies safe defaults, runs fn, and closes
// the connection no matter how fn exits. An open failure is logged and
// returned; a close failure is reported through the warn hook.
func (s *SQLiteStore) withConn(ctx context.Context, fn func(db *sql.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		s.log.Error("failed to open database %s: %v", s.dbPath, err)
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			s.warn("failed to close database %s: %v", s.dbPath, cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		s.log.Error("failed to open database %s: %v", s.dbPath, err)
		return fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set pragma: %w", err)
	}

	return fn(db)
}

// EnsureSchema creates the items table if absent. Safe to call every startup.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if err := s.rejectIfReadOnly("ensure schema"); err != nil {
		return err
	}
	return s.withConn(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, createItemsTable); err != nil {
			return fmt.Errorf("failed to create items table: %w", err)
		}
		return nil
	})
}

// UpgradeSchema reads the stored schema version and, when it is below
// target, adds the new_column column and writes the new version. A target
// at or below the stored version is a silent no-op: downgrades are never
// applied and never error.
func (s *SQLiteStore) UpgradeSchema(ctx context.Context, target int) error {
	if err := s.rejectIfReadOnly("upgrade schema"); err != nil {
		return err
	}
	return s.withConn(ctx, func(db *sql.DB) error {
		var current int
		if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if current >= target {
			return nil
		}
		if _, err := db.ExecContext(ctx, addExtraColumn); err != nil {
			return fmt.Errorf("failed to add new_column: %w", err)
		}
		// user_version takes a literal integer, not a bind parameter.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the stored schema version, 0 for a fresh database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.withConn(ctx, func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		return nil
	})
	return version, err
}

// Insert adds one item and returns the id assigned by the datastore.
// new_column is never written on insert.
func (s *SQLiteStore) Insert(ctx context.Context, item store.Item) (int64, error) {
	if err := s.rejectIfReadOnly("insert"); err != nil {
		return 0, err
	}
	var id int64
	err := s.withConn(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, insertItem, item.Name, item.Description)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		return nil
	})
	return id, err
}

// Update replaces name and description for the row matching id. A missing
// id affects zero rows and is not an error.
func (s *SQLiteStore) Update(ctx context.Context, id int64, item store.Item) error {
	if err := s.rejectIfReadOnly("update"); err != nil {
		return err
	}
	return s.withConn(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, updateItem, item.Name, item.Description, id); err != nil {
			return fmt.Errorf("failed to update item %d: %w", id, err)
		}
		return nil
	})
}

// Delete removes the row matching id. A missing id is a silent no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if err := s.rejectIfReadOnly("delete"); err != nil {
		return err
	}
	return s.withConn(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, deleteItem, id); err != nil {
			return fmt.Errorf("failed to delete item %d: %w", id, err)
		}
		return nil
	})
}

// ListAll returns every row in the items table, in whatever order the engine
// produces. Works before and after the v2 upgrade: the row shape is detected
// from the result columns since SELECT * widens once new_column exists.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]store.Item, error) {
	var items []store.Item
	err := s.withConn(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, selectAllItems)
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("failed to read item columns: %w", err)
		}
		hasExtra := len(cols) > 3

		for rows.Next() {
			var item store.Item
			if hasExtra {
				var extra sql.NullString
				if err := rows.Scan(&item.ID, &item.Name, &item.Description, &extra); err != nil {
					return fmt.Errorf("failed to scan item: %w", err)
				}
				if extra.Valid {
					item.Extra = &extra.String
				}
			} else {
				if err := rows.Scan(&item.ID, &item.Name, &item.Description); err != nil {
					return fmt.Errorf("failed to scan item: %w", err)
				}
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}
		return nil
	})
	return items, err
}

// CheckState returns the current state of the datastore file. The file is
// stat'ed before any connection is opened so a missing database is not
// created as a side effect of checking it.
func (s *SQLiteStore) CheckState(ctx context.Context) (store.StoreState, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		if os.IsNotExist(err) {
			return store.StateMissing, nil
		}
		return store.StateMissing, fmt.Errorf("failed to check store existence: %w", err)
	}

	state := store.StateUninitialized
	err := s.withConn(ctx, func(db *sql.DB) error {
		var count int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'`).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check items table: %w", err)
		}
		if count == 0 {
			return nil
		}

		var version int
		if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if version != store.TargetSchemaVersion {
			state = store.StateVersionMismatch
			return nil
		}
		state = store.StateReady
		return nil
	})
	if err != nil {
		return store.StateUninitialized, err
	}
	return state, nil
}

var _ store.Store = (*SQLiteStore)(nil)
