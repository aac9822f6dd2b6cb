// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rapidaai/chirp/pkg/commons"
	"github.com/rapidaai/chirp/pkg/utils"
)

// Store owns the in-memory transcript index and mirrors every mutation to the
// durable repository. Mutations for the same item id are serialized by the
// store mutex; the durable mirror is written synchronously with the mutation
// (at-least-once — a failed write is logged, never rolled back).
type Store struct {
	logger commons.Logger
	repo   Repository

	mu       sync.Mutex
	items    map[string]*Item
	sequence map[string]int // insertion order, tie-break for equal createdAt
	nextSeq  int
	latestID string // most recently created item

	observerMu sync.Mutex
	observers  []func(Item)

	now func() int64 // unix millis, swappable in tests
}

// NewStore creates a transcript store over the given durable repository.
func NewStore(logger commons.Logger, repo Repository) *Store {
	return &Store{
		logger:   logger,
		repo:     repo,
		items:    make(map[string]*Item),
		sequence: make(map[string]int),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Ensure creates the item if unknown; for a known item it replaces the text
// only when initial is non-blank and refreshes updatedAt. Role never changes
// after creation.
func (s *Store) Ensure(ctx context.Context, itemID, role, initial string) {
	s.mu.Lock()
	now := s.now()
	existing, ok := s.items[itemID]
	var item *Item
	if !ok {
		item = &Item{ItemID: itemID, Role: role, Text: initial, CreatedAt: now, UpdatedAt: now}
		s.insert(item)
	} else {
		if !utils.IsEmpty(initial) {
			existing.Text = initial
		}
		existing.UpdatedAt = now
		item = existing
	}
	s.mirror(ctx, item)
	notify := s.latestSnapshot(item)
	s.mu.Unlock()

	s.publish(notify)
}

// Append concatenates delta onto a known item's text. Deltas for unknown item
// ids are dropped: a delta arriving before its creation event carries no role,
// so guessing would corrupt the transcript.
func (s *Store) Append(ctx context.Context, itemID, delta string) {
	s.mu.Lock()
	existing, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return
	}
	existing.Text += delta
	existing.UpdatedAt = s.now()
	s.mirror(ctx, existing)
	notify := s.latestSnapshot(existing)
	s.mu.Unlock()

	s.publish(notify)
}

// Finalize sets the item's authoritative text. A blank text keeps whatever was
// accumulated; an unknown item is created with the assistant role.
func (s *Store) Finalize(ctx context.Context, itemID, text string) {
	s.mu.Lock()
	now := s.now()
	existing, ok := s.items[itemID]
	if !ok {
		existing = &Item{ItemID: itemID, Role: RoleAssistant, CreatedAt: now}
		s.insert(existing)
	}
	if !utils.IsEmpty(text) {
		existing.Text = text
	}
	existing.UpdatedAt = now
	s.mirror(ctx, existing)
	notify := s.latestSnapshot(existing)
	s.mu.Unlock()

	s.publish(notify)
}

// Delete removes one item from the index and the durable mirror.
func (s *Store) Delete(ctx context.Context, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, itemID)
	delete(s.sequence, itemID)
	if s.latestID == itemID {
		s.latestID = ""
	}
	if err := s.repo.DeleteByID(ctx, itemID); err != nil {
		s.logger.Warnw("Failed to delete transcript from durable store", "item", itemID, "error", err)
	}
}

// DeleteAll clears the index and the durable mirror.
func (s *Store) DeleteAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*Item)
	s.sequence = make(map[string]int)
	s.latestID = ""
	if err := s.repo.DeleteAll(ctx); err != nil {
		s.logger.Warnw("Failed to clear durable transcript store", "error", err)
	}
}

// Items returns a snapshot of all items in creation order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		snapshot = append(snapshot, *item)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return s.sequence[a.ItemID] < s.sequence[b.ItemID]
	})
	return snapshot
}

// Len returns the number of items currently indexed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// SubscribeLatest registers an observer invoked with a snapshot of the
// newest-created item after every mutation that touches it. Observers run
// outside the store lock and must not assume the item still exists.
func (s *Store) SubscribeLatest(fn func(Item)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, fn)
}

// insert registers a new item in the index. Caller holds mu.
func (s *Store) insert(item *Item) {
	s.items[item.ItemID] = item
	s.sequence[item.ItemID] = s.nextSeq
	s.nextSeq++
	s.latestID = item.ItemID
}

// mirror forwards the mutated item to the durable store. Caller holds mu,
// which is what serializes mirror writes per item.
func (s *Store) mirror(ctx context.Context, item *Item) {
	snapshot := *item
	if err := s.repo.Upsert(ctx, &snapshot); err != nil {
		s.logger.Warnw("Failed to mirror transcript to durable store", "item", item.ItemID, "error", err)
	}
}

// latestSnapshot returns a copy of item when it is the newest-created one,
// nil otherwise. Caller holds mu.
func (s *Store) latestSnapshot(item *Item) *Item {
	if item.ItemID != s.latestID {
		return nil
	}
	snapshot := *item
	return &snapshot
}

func (s *Store) publish(item *Item) {
	if item == nil {
		return
	}
	s.observerMu.Lock()
	observers := append([]func(Item){}, s.observers...)
	s.observerMu.Unlock()

	for _, fn := range observers {
		fn(*item)
	}
}
