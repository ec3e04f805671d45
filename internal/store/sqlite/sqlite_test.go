package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/maloquacious/itemdeck/internal/store"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	return New(filepath.Join(t.TempDir(), store.DefaultDBFile), opts...)
}

// openRaw opens a direct handle for inspecting the database from tests.
func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open raw database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countColumns(t *testing.T, path string) int {
	t.Helper()
	db := openRaw(t, path)
	rows, err := db.Query("PRAGMA table_info(items)")
	if err != nil {
		t.Fatalf("failed to read table info: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("failed to read table info: %v", err)
	}
	return count
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("first EnsureSchema failed: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
	if got := countColumns(t, s.dbPath); got != 3 {
		t.Errorf("got %d columns, want 3", got)
	}
}

func TestInsertAndListAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	id, err := s.Insert(ctx, store.Item{Name: "A", Description: "d1"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero assigned id")
	}

	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	got := items[0]
	if got.ID != id || got.Name != "A" || got.Description != "d1" {
		t.Errorf("got %+v, want id=%d name=A description=d1", got, id)
	}
	if got.Extra != nil {
		t.Errorf("Extra should be nil before the upgrade, got %q", *got.Extra)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	id, err := s.Insert(ctx, store.Item{Name: "A", Description: "d1"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	s.SetReadOnly(true)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"EnsureSchema", func() error { return s.EnsureSchema(ctx) }},
		{"UpgradeSchema", func() error { return s.UpgradeSchema(ctx, store.TargetSchemaVersion) }},
		{"Insert", func() error {
			_, err := s.Insert(ctx, store.Item{Name: "B", Description: "d2"})
			return err
		}},
		{"Update", func() error { return s.Update(ctx, id, store.Item{Name: "B", Description: "d2"}) }},
		{"Delete", func() error { return s.Delete(ctx, id) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, store.ErrReadOnly) {
				t.Errorf("got %v, want store.ErrReadOnly", err)
			}
		})
	}

	// Reads still work and the table is unchanged
	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed in read-only mode: %v", err)
	}
	if len(items) != 1 || items[0].Name != "A" {
		t.Errorf("table changed under read-only mode: %+v", items)
	}
	if got := countColumns(t, s.dbPath); got != 3 {
		t.Errorf("schema changed under read-only mode: %d columns", got)
	}

	s.SetReadOnly(false)
	if _, err := s.Insert(ctx, store.Item{Name: "B", Description: "d2"}); err != nil {
		t.Errorf("insert after clearing read-only failed: %v", err)
	}
}

func TestReadOnlyOption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithReadOnly(true))
	if err := s.EnsureSchema(ctx); !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("got %v, want store.ErrReadOnly", err)
	}
}

func TestUpgradeSchemaMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	// Rows inserted before the upgrade get no backfill
	preID, err := s.Insert(ctx, store.Item{Name: "old", Description: "pre-upgrade"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		t.Fatalf("first UpgradeSchema failed: %v", err)
	}
	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		t.Fatalf("second UpgradeSchema failed: %v", err)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != store.TargetSchemaVersion {
		t.Errorf("got schema version %d, want %d", version, store.TargetSchemaVersion)
	}
	if got := countColumns(t, s.dbPath); got != 4 {
		t.Errorf("got %d columns, want 4 (exactly one column added)", got)
	}

	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != preID {
		t.Fatalf("unexpected items after upgrade: %+v", items)
	}
	if items[0].Extra != nil {
		t.Errorf("pre-upgrade row should have nil Extra, got %q", *items[0].Extra)
	}
}

func TestUpgradeSchemaIgnoresLowerTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		t.Fatalf("UpgradeSchema failed: %v", err)
	}

	// A target below the stored version is a silent no-op
	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion-1); err != nil {
		t.Fatalf("downgrade target should be a no-op, got: %v", err)
	}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != store.TargetSchemaVersion {
		t.Errorf("got schema version %d, want %d", version, store.TargetSchemaVersion)
	}
}

func TestUpdateAndDeleteMissingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if _, err := s.Insert(ctx, store.Item{Name: "A", Description: "d1"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.Update(ctx, 9999, store.Item{Name: "X", Description: "x"}); err != nil {
		t.Errorf("update of missing id should be a silent no-op, got: %v", err)
	}
	if err := s.Delete(ctx, 9999); err != nil {
		t.Errorf("delete of missing id should be a silent no-op, got: %v", err)
	}

	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "A" || items[0].Description != "d1" {
		t.Errorf("list changed by missing-id mutations: %+v", items)
	}
}

func TestInsertUpdateDeleteScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	idA, err := s.Insert(ctx, store.Item{Name: "A", Description: "d1"})
	if err != nil {
		t.Fatalf("insert A failed: %v", err)
	}
	idB, err := s.Insert(ctx, store.Item{Name: "B", Description: "d2"})
	if err != nil {
		t.Fatalf("insert B failed: %v", err)
	}
	if idA == idB {
		t.Fatalf("expected distinct ids, both are %d", idA)
	}

	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	if err := s.Update(ctx, idA, store.Item{Name: "A2", Description: "d1"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	items, err = s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	found := false
	for _, item := range items {
		if item.ID == idA {
			found = true
			if item.Name != "A2" || item.Description != "d1" {
				t.Errorf("got %+v, want name=A2 description=d1", item)
			}
		}
	}
	if !found {
		t.Fatalf("updated item %d missing from list", idA)
	}

	if err := s.Delete(ctx, idB); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	items, err = s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != idA {
		t.Errorf("got %+v, want only item %d", items, idA)
	}
}

func TestCheckState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	state, err := s.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState failed: %v", err)
	}
	if state != store.StateMissing {
		t.Errorf("got %v, want StateMissing", state)
	}

	// Touch the database without creating the items table
	if _, err := s.SchemaVersion(ctx); err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	state, err = s.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState failed: %v", err)
	}
	if state != store.StateUninitialized {
		t.Errorf("got %v, want StateUninitialized", state)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	state, err = s.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState failed: %v", err)
	}
	if state != store.StateVersionMismatch {
		t.Errorf("got %v, want StateVersionMismatch", state)
	}

	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		t.Fatalf("UpgradeSchema failed: %v", err)
	}
	state, err = s.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState failed: %v", err)
	}
	if state != store.StateReady {
		t.Errorf("got %v, want StateReady", state)
	}
}

func TestExtraColumnRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := s.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		t.Fatalf("UpgradeSchema failed: %v", err)
	}

	id, err := s.Insert(ctx, store.Item{Name: "A", Description: "d1"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Insert never writes new_column; a value set out of band comes back
	db := openRaw(t, s.dbPath)
	if _, err := db.Exec("UPDATE items SET new_column = ? WHERE id = ?", "filled", id); err != nil {
		t.Fatalf("failed to set new_column: %v", err)
	}

	items, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Extra == nil || *items[0].Extra != "filled" {
		t.Errorf("got Extra=%v, want \"filled\"", items[0].Extra)
	}
}
