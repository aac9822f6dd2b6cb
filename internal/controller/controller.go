// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_controller

import (
	"context"
	"sync"

	"github.com/rapidaai/chirp/pkg/commons"

	internal_realtime "github.com/rapidaai/chirp/internal/realtime"
	internal_settings "github.com/rapidaai/chirp/internal/settings"
)

// SessionDriver is the protocol client surface the controller drives.
type SessionDriver interface {
	Start(ctx context.Context, config internal_realtime.SessionConfig, onStatus internal_realtime.StatusFunc) error
	Stop()
}

// SettingsSource supplies the settings snapshot read at session start.
type SettingsSource interface {
	Current() internal_settings.UserSettings
}

// TranscriptAdmin is the transcript surface exposed to external commands.
type TranscriptAdmin interface {
	Delete(ctx context.Context, itemID string)
	DeleteAll(ctx context.Context)
}

// ============================================================================
// Controller
// ============================================================================

// Controller holds the single authoritative SessionState and serializes
// start/stop/toggle intent. Every state change is delivered to subscribers in
// emission order under one mutex; subscribers must not call back into the
// controller synchronously.
//
// Each Start bumps a session generation and tags its status callback with it;
// Stop bumps it again. A callback arriving from a superseded attempt finds a
// newer generation and is discarded, so a slow start can never publish a stale
// Connected over a later stop.
type Controller struct {
	logger      commons.Logger
	driver      SessionDriver
	settings    SettingsSource
	transcripts TranscriptAdmin

	mu         sync.Mutex
	state      internal_realtime.SessionState
	generation uint64
	observers  []func(internal_realtime.SessionState)
}

// NewController creates a controller in the Idle state.
func NewController(
	logger commons.Logger,
	driver SessionDriver,
	settings SettingsSource,
	transcripts TranscriptAdmin,
) *Controller {
	return &Controller{
		logger:      logger,
		driver:      driver,
		settings:    settings,
		transcripts: transcripts,
		state:       internal_realtime.IdleState(),
	}
}

// State returns the current session state.
func (c *Controller) State() internal_realtime.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an observer and immediately replays the current state to
// it, so late subscribers do not miss the standing value.
func (c *Controller) Subscribe(fn func(internal_realtime.SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
	fn(c.state)
}

// Start begins a session attempt asynchronously. Settings are read once, at
// invocation, and never re-read mid-session.
func (c *Controller) Start() {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	prefs := c.settings.Current()
	config := internal_realtime.SessionConfig{
		LowBandwidth:    prefs.LowBandwidth,
		Transcribe:      prefs.Transcribe,
		MaxOutputTokens: prefs.MaxOutputTokens,
	}

	go func() {
		err := c.driver.Start(context.Background(), config, func(state internal_realtime.SessionState) {
			c.publish(generation, state)
		})
		if err != nil {
			c.logger.Warnw("Session start failed", "error", err)
		}
	}()
}

// Stop tears the session down asynchronously and force-publishes Idle. The
// generation bump happens synchronously, so status callbacks from the attempt
// being stopped are invalidated before this method returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	go func() {
		c.driver.Stop()
		c.publish(generation, internal_realtime.IdleState())
	}()
}

// Toggle is the sole arbiter of start/stop intent: a live or in-flight session
// is stopped, anything else is started. Repeated external toggles therefore
// never produce overlapping start attempts.
func (c *Controller) Toggle() {
	c.mu.Lock()
	status := c.state.Status
	c.mu.Unlock()

	switch status {
	case internal_realtime.StatusConnected, internal_realtime.StatusConnecting:
		c.Stop()
	default:
		c.Start()
	}
}

// ClearTranscripts deletes every transcript item asynchronously.
func (c *Controller) ClearTranscripts() {
	go c.transcripts.DeleteAll(context.Background())
}

// DeleteTranscript deletes one transcript item asynchronously.
func (c *Controller) DeleteTranscript(itemID string) {
	go c.transcripts.Delete(context.Background(), itemID)
}

// publish records and fans out a state tagged with the generation it belongs
// to. States from superseded generations are dropped.
func (c *Controller) publish(generation uint64, state internal_realtime.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.logger.Debugw("Discarding stale session state",
			"status", state.Status, "generation", generation, "current", c.generation)
		return
	}
	c.state = state
	for _, fn := range c.observers {
		fn(state)
	}
}
