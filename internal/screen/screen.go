// Package screen holds the item-list presentation state: a cached copy of
// the full item set plus the user actions that mutate it. It never talks to
// the datastore directly, only through the store contract.
package screen

import (
	"context"
	"fmt"

	"github.com/maloquacious/itemdeck/internal/store"
)

// Fallback payloads used when an action arrives without input. Input capture
// belongs to the delivery layer; these keep the demo flow usable without it.
const (
	DefaultName        = "New Item"
	DefaultUpdatedName = "Updated Item"
	DefaultDescription = "This is a new item"
)

// List is the item-list screen state. The cached items are a snapshot as of
// the last fetch; between a mutation and its refresh the cache may lag the
// datastore. Not safe for concurrent use; callers serialize access.
type List struct {
	store store.Store
	items []store.Item
}

// NewList creates an empty, unmounted item-list screen over st.
func NewList(st store.Store) *List {
	return &List{store: st}
}

// Mount prepares the datastore and loads the initial list. The three steps
// run strictly in order, each awaited before the next: ensure the schema,
// upgrade to the target version, fetch all items. The first failure aborts
// the sequence.
func (l *List) Mount(ctx context.Context) error {
	if err := l.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	if err := l.store.UpgradeSchema(ctx, store.TargetSchemaVersion); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	return l.Refresh(ctx)
}

// Refresh replaces the cached list with a full fetch.
func (l *List) Refresh(ctx context.Context) error {
	items, err := l.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	l.items = items
	return nil
}

// Items returns the cached list from the last fetch.
func (l *List) Items() []store.Item {
	return l.items
}

// Add inserts one item and re-fetches the full list. There is no optimistic
// update; the cache is only touched by the refresh.
func (l *List) Add(ctx context.Context, name, description string) error {
	if name == "" {
		name = DefaultName
	}
	if description == "" {
		description = DefaultDescription
	}
	if _, err := l.store.Insert(ctx, store.Item{Name: name, Description: description}); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

// Update replaces the named fields of the item matching id, then re-fetches.
// An id with no matching row leaves the list unchanged, without error.
func (l *List) Update(ctx context.Context, id int64, name, description string) error {
	if name == "" {
		name = DefaultUpdatedName
	}
	if description == "" {
		description = DefaultDescription
	}
	if err := l.store.Update(ctx, id, store.Item{Name: name, Description: description}); err != nil {
		return err
	}
	return l.Refresh(ctx)
}

// Remove deletes the item matching id, then re-fetches. A missing id is a
// silent no-op at the store level.
func (l *List) Remove(ctx context.Context, id int64) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	return l.Refresh(ctx)
}
