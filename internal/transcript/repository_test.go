// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	return repo
}

func TestSQLiteRepository_UpsertAndList(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &Item{ItemID: "a", Role: RoleUser, Text: "hello", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, repo.Upsert(ctx, &Item{ItemID: "b", Role: RoleAssistant, Text: "hi", CreatedAt: 2, UpdatedAt: 2}))

	// Upsert replaces in place.
	require.NoError(t, repo.Upsert(ctx, &Item{ItemID: "a", Role: RoleUser, Text: "hello world", CreatedAt: 1, UpdatedAt: 3}))

	items, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ItemID, "list is ordered by created_at")
	assert.Equal(t, "hello world", items[0].Text)
	assert.Equal(t, "hi", items[1].Text)
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &Item{ItemID: "a", Role: RoleUser, Text: "x", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, repo.Upsert(ctx, &Item{ItemID: "b", Role: RoleUser, Text: "y", CreatedAt: 2, UpdatedAt: 2}))

	require.NoError(t, repo.DeleteByID(ctx, "a"))
	items, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ItemID)

	require.NoError(t, repo.DeleteAll(ctx))
	items, err = repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
