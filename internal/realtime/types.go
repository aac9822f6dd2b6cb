// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"errors"
	"fmt"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// SessionConfig is built fresh from current settings for every session start
// and never mutated mid-session.
type SessionConfig struct {
	LowBandwidth    bool
	Transcribe      bool
	MaxOutputTokens int
	Model           string
	Voice           string
}

// DefaultSessionConfig fills in the provider defaults for unset fields.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	return c
}

// SessionState is a published snapshot of the session. Invariant:
// IsLive implies Status == StatusConnected.
type SessionState struct {
	Status  Status
	Message string
	IsLive  bool
	Error   string
}

// IdleState is the state before any session has started.
func IdleState() SessionState {
	return SessionState{Status: StatusIdle, Message: "Idle"}
}

// StatusFunc receives every state transition of a session attempt.
type StatusFunc func(SessionState)

// Provider/session constants. Values match the realtime provider contract.
const (
	DefaultModel = "gpt-realtime"
	DefaultVoice = "verse"

	// Instructions sent in the session.update control message.
	SessionInstructions = "You are a friendly voice assistant. Keep replies concise."

	// TranscriptionModel is requested only when transcription is enabled.
	TranscriptionModel = "gpt-4o-mini-transcribe"

	// DataChannelLabel is the reliable ordered event channel.
	DataChannelLabel = "oai-events"

	// LocalTrackID identifies the microphone track in the SDP.
	LocalTrackID     = "chirp-audio"
	LocalTrackStream = "chirp-stream"

	// VADSilenceMS is the server-side turn-detection silence threshold.
	VADSilenceMS = 400

	// ICEGatheringTimeoutMS bounds the wait for candidate gathering; a partial
	// candidate set is acceptable, so hitting the bound is non-fatal.
	ICEGatheringTimeoutMS = 1500

	// EventQueueSize bounds the inbound data-channel dispatch queue.
	EventQueueSize = 256
)

// STUN servers used for the peer transport (STUN-only, no TURN).
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// ErrMissingAPIKey aborts a session attempt before any network call is made.
var ErrMissingAPIKey = errors.New("Missing API key")

// ProviderError is a non-success HTTP response from a provider endpoint.
// It is terminal for the session attempt.
type ProviderError struct {
	Endpoint string // "session" or "sdp"
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Endpoint, e.Status, e.Body)
}

// SessionInfo is the result of the provider session-creation call.
type SessionInfo struct {
	ClientSecret string
	Model        string
}
