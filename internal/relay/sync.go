// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"strings"
	"sync"

	"github.com/rapidaai/chirp/pkg/commons"

	internal_realtime "github.com/rapidaai/chirp/internal/realtime"
	internal_transcript "github.com/rapidaai/chirp/internal/transcript"
)

// Broadcaster pushes one payload to every reachable companion.
type Broadcaster interface {
	Broadcast(path string, payload interface{})
}

// StatusPayload mirrors session state outward.
type StatusPayload struct {
	Status string `json:"status"`
	Live   bool   `json:"live"`
}

// TranscriptPayload mirrors the latest transcript text outward.
type TranscriptPayload struct {
	Text string `json:"text"`
}

// ============================================================================
// Sync
// ============================================================================

// Sync forwards session state and latest-transcript changes to companions.
// Latest-state-wins push with no queue and no retry; any failure in the relay
// path is logged and swallowed so the session flow is never disturbed by a
// companion problem.
type Sync struct {
	logger commons.Logger
	hub    Broadcaster

	mu       sync.Mutex
	lastText string
	hasText  bool
}

// NewSync creates a relay sync over the given broadcaster.
func NewSync(logger commons.Logger, hub Broadcaster) *Sync {
	return &Sync{logger: logger, hub: hub}
}

// OnState pushes a session-state change. Register with controller Subscribe.
func (s *Sync) OnState(state internal_realtime.SessionState) {
	s.send(PathStatus, StatusPayload{Status: string(state.Status), Live: state.IsLive})
}

// OnLatestItem pushes the newest transcript text, deduplicated by equality:
// mutations that leave the visible text unchanged are not forwarded. Register
// with the transcript store's SubscribeLatest.
func (s *Sync) OnLatestItem(item internal_transcript.Item) {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.hasText && s.lastText == text {
		s.mu.Unlock()
		return
	}
	s.lastText = text
	s.hasText = true
	s.mu.Unlock()

	s.send(PathTranscript, TranscriptPayload{Text: text})
}

func (s *Sync) send(path string, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnw("Relay send panicked", "path", path, "panic", r)
		}
	}()
	s.hub.Broadcast(path, payload)
}
