// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_Defaults(t *testing.T) {
	store, err := NewStateStore(testLogger(t), t.TempDir())
	require.NoError(t, err)

	current := store.Current()
	assert.Equal(t, "idle", current.Status)
	assert.False(t, current.IsLive)
	assert.Empty(t, current.LastTranscript)
}

func TestStateStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStateStore(testLogger(t), dir)
	require.NoError(t, err)
	store.SetStatus("connected", true)
	store.SetTranscript("see you tomorrow")

	reopened, err := NewStateStore(testLogger(t), dir)
	require.NoError(t, err)

	current := reopened.Current()
	assert.Equal(t, "connected", current.Status)
	assert.True(t, current.IsLive)
	assert.Equal(t, "see you tomorrow", current.LastTranscript)
}

func TestStateStore_NotifiesObservers(t *testing.T) {
	store, err := NewStateStore(testLogger(t), t.TempDir())
	require.NoError(t, err)

	var seen []CompanionState
	store.Subscribe(func(state CompanionState) { seen = append(seen, state) })

	store.SetStatus("connecting", false)
	store.SetStatus("connected", true)

	require.Len(t, seen, 2)
	assert.Equal(t, "connecting", seen[0].Status)
	assert.True(t, seen[1].IsLive)
}
