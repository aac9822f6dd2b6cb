// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/chirp/pkg/commons"
)

// ============================================================================
// Test helpers
// ============================================================================

// memoryRepository records mirror traffic for assertions.
type memoryRepository struct {
	mu      sync.Mutex
	rows    map[string]Item
	upserts []string
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rows: make(map[string]Item)}
}

func (r *memoryRepository) Upsert(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[item.ItemID] = *item
	r.upserts = append(r.upserts, item.ItemID)
	return nil
}

func (r *memoryRepository) DeleteByID(_ context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, itemID)
	return nil
}

func (r *memoryRepository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]Item)
	return nil
}

func (r *memoryRepository) ListAll(_ context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]Item, 0, len(r.rows))
	for _, item := range r.rows {
		items = append(items, item)
	}
	return items, nil
}

func (r *memoryRepository) row(itemID string) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.rows[itemID]
	return item, ok
}

func (r *memoryRepository) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func newTestStore(t *testing.T) (*Store, *memoryRepository) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	repo := newMemoryRepository()
	return NewStore(logger, repo), repo
}

// ============================================================================
// Ensure / Append / Finalize
// ============================================================================

func TestEnsure_CreatesAndMirrors(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Text)
	assert.Equal(t, RoleUser, items[0].Role)

	mirrored, ok := repo.row("a")
	require.True(t, ok, "mutation should be mirrored synchronously")
	assert.Equal(t, "hello", mirrored.Text)
}

func TestEnsure_KnownItemKeepsRole(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Ensure(ctx, "a", RoleAssistant, "replaced")

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, RoleUser, items[0].Role, "role never changes after creation")
	assert.Equal(t, "replaced", items[0].Text, "non-blank initial replaces text")
}

func TestEnsure_KnownItemBlankInitialKeepsText(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Ensure(ctx, "a", RoleUser, "  ")

	assert.Equal(t, "hello", store.Items()[0].Text)
}

func TestAppend_ConcatenatesInCallOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleAssistant, "")
	deltas := []string{"one", " two", " three", " four"}
	expected := ""
	for _, d := range deltas {
		store.Append(ctx, "a", d)
		expected += d
	}

	assert.Equal(t, expected, store.Items()[0].Text)
}

func TestAppend_UnknownItemIsNoOp(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, "ghost", "delta")

	assert.Equal(t, 0, store.Len(), "store size must be unchanged")
	assert.Equal(t, 0, repo.size(), "nothing may reach the mirror")
}

func TestFinalize_BlankKeepsAccumulatedText(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Append(ctx, "a", " world")
	store.Finalize(ctx, "a", "")

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "hello world", items[0].Text)
	assert.Equal(t, RoleUser, items[0].Role)
}

func TestFinalize_NonBlankReplacesText(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Append(ctx, "a", " world")
	store.Finalize(ctx, "a", "X")

	assert.Equal(t, "X", store.Items()[0].Text)
}

func TestFinalize_UnknownItemDefaultsToAssistant(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	store.Finalize(ctx, "x", "hi")

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, RoleAssistant, items[0].Role)
	assert.Equal(t, "hi", items[0].Text)

	_, ok := repo.row("x")
	assert.True(t, ok)
}

// ============================================================================
// Delete / DeleteAll
// ============================================================================

func TestDelete_RemovesItemAndMirror(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Ensure(ctx, "b", RoleAssistant, "hi")
	store.Delete(ctx, "a")

	assert.Equal(t, 1, store.Len())
	_, ok := repo.row("a")
	assert.False(t, ok)
}

func TestDeleteAll_EmptiesIndexAndMirror(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "hello")
	store.Finalize(ctx, "b", "hi")
	store.DeleteAll(ctx)

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, repo.size())
}

// ============================================================================
// Ordering & observers
// ============================================================================

func TestItems_CreationOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Freeze the clock so ordering falls back to insertion sequence.
	store.now = func() int64 { return 42 }

	store.Ensure(ctx, "a", RoleUser, "1")
	store.Ensure(ctx, "b", RoleAssistant, "2")
	store.Ensure(ctx, "c", RoleUser, "3")
	store.Append(ctx, "a", "!") // mutation must not reorder

	items := store.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ItemID)
	assert.Equal(t, "b", items[1].ItemID)
	assert.Equal(t, "c", items[2].ItemID)
}

func TestSubscribeLatest_OnlyNewestItemPublishes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var seen []string
	store.SubscribeLatest(func(item Item) { seen = append(seen, item.Text) })

	store.Ensure(ctx, "a", RoleUser, "first")
	store.Ensure(ctx, "b", RoleAssistant, "second")
	store.Append(ctx, "a", " stale") // not the newest item — no publish
	store.Append(ctx, "b", " more")

	assert.Equal(t, []string{"first", "second", "second more"}, seen)
}

func TestConcurrentMutations_DistinctItems(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Ensure(ctx, "a", RoleUser, "")
	store.Ensure(ctx, "b", RoleAssistant, "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Append(ctx, "a", "x")
		}()
		go func() {
			defer wg.Done()
			store.Append(ctx, "b", "y")
		}()
	}
	wg.Wait()

	items := store.Items()
	require.Len(t, items, 2)
	assert.Len(t, items[0].Text, 50)
	assert.Len(t, items[1].Text, 50)
}
