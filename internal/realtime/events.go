// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Inbound data-channel events
// ============================================================================

// Event is one decoded data-channel message. The set of variants is closed;
// anything the decoder does not recognise becomes *EventUnknown so that new
// server event kinds never break dispatch.
type Event interface {
	eventKind() string
}

// EventError is a server-reported fatal session error.
type EventError struct {
	Message string
}

// EventItemCreated announces a new conversation item (user or assistant
// message) with whatever text the server already knows for it.
type EventItemCreated struct {
	ItemID string
	Role   string
	Text   string
}

// EventInputTranscriptionDelta is an incremental user-speech transcript chunk.
type EventInputTranscriptionDelta struct {
	ItemID string
	Delta  string
}

// EventInputTranscriptionCompleted carries the authoritative user transcript.
type EventInputTranscriptionCompleted struct {
	ItemID     string
	Transcript string
}

// EventResponseTranscriptDelta is an incremental assistant transcript chunk.
type EventResponseTranscriptDelta struct {
	ItemID string
	Delta  string
}

// EventResponseTranscriptDone carries the authoritative assistant transcript.
type EventResponseTranscriptDone struct {
	ItemID     string
	Transcript string
}

// FinalItem is one finalized assistant output inside a response.done event.
type FinalItem struct {
	ItemID string
	Text   string
}

// EventResponseDone finalizes every assistant message of a completed response.
type EventResponseDone struct {
	Items []FinalItem
}

// EventUnknown is any well-formed event the client does not act on.
type EventUnknown struct {
	Type string
}

func (*EventError) eventKind() string                       { return "error" }
func (*EventItemCreated) eventKind() string                 { return "conversation.item.created" }
func (*EventInputTranscriptionDelta) eventKind() string     { return "conversation.item.input_audio_transcription.delta" }
func (*EventInputTranscriptionCompleted) eventKind() string { return "conversation.item.input_audio_transcription.completed" }
func (*EventResponseTranscriptDelta) eventKind() string     { return "response.audio_transcript.delta" }
func (*EventResponseTranscriptDone) eventKind() string      { return "response.audio_transcript.done" }
func (*EventResponseDone) eventKind() string                { return "response.done" }
func (e *EventUnknown) eventKind() string                   { return e.Type }

// ============================================================================
// Wire shapes
// ============================================================================

type wireEvent struct {
	Type       string          `json:"type"`
	Error      *wireError      `json:"error,omitempty"`
	Item       *wireItem       `json:"item,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Response   *wireResponse   `json:"response,omitempty"`
	Session    json.RawMessage `json:"session,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
}

type wireItem struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Role    string            `json:"role"`
	Content []wireContentPart `json:"content"`
}

type wireContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

type wireResponse struct {
	Output []wireItem `json:"output"`
}

// DecodeEvent parses one data-channel message into a typed event. A non-JSON
// payload is an error (callers drop it); a JSON payload of an unhandled kind
// decodes to *EventUnknown.
func DecodeEvent(raw []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	switch wire.Type {
	case "error":
		message := "Realtime error"
		if wire.Error != nil && wire.Error.Message != "" {
			message = wire.Error.Message
		}
		return &EventError{Message: message}, nil

	case "conversation.item.created":
		if wire.Item == nil || wire.Item.Type != "message" {
			return &EventUnknown{Type: wire.Type}, nil
		}
		role := wire.Item.Role
		if role != "user" && role != "assistant" {
			return &EventUnknown{Type: wire.Type}, nil
		}
		return &EventItemCreated{
			ItemID: wire.Item.ID,
			Role:   role,
			Text:   textFromContent(wire.Item.Content),
		}, nil

	case "conversation.item.input_audio_transcription.delta":
		return &EventInputTranscriptionDelta{ItemID: wire.ItemID, Delta: wire.Delta}, nil

	case "conversation.item.input_audio_transcription.completed":
		return &EventInputTranscriptionCompleted{ItemID: wire.ItemID, Transcript: wire.Transcript}, nil

	case "response.audio_transcript.delta":
		return &EventResponseTranscriptDelta{ItemID: wire.ItemID, Delta: wire.Delta}, nil

	case "response.audio_transcript.done":
		return &EventResponseTranscriptDone{ItemID: wire.ItemID, Transcript: wire.Transcript}, nil

	case "response.done":
		if wire.Response == nil {
			return &EventUnknown{Type: wire.Type}, nil
		}
		var finals []FinalItem
		for _, item := range wire.Response.Output {
			if item.Type != "message" || item.Role != "assistant" {
				continue
			}
			finals = append(finals, FinalItem{
				ItemID: item.ID,
				Text:   textFromContent(item.Content),
			})
		}
		return &EventResponseDone{Items: finals}, nil

	default:
		return &EventUnknown{Type: wire.Type}, nil
	}
}

// textFromContent extracts the best-effort text of an item: the first
// text-bearing part wins — transcript text for audio parts, literal text for
// input_text/output_text parts.
func textFromContent(content []wireContentPart) string {
	for _, part := range content {
		switch part.Type {
		case "input_text", "output_text":
			if part.Text != "" {
				return part.Text
			}
		case "audio":
			if part.Transcript != "" {
				return part.Transcript
			}
		}
	}
	return ""
}

// ============================================================================
// Outbound control message
// ============================================================================

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	MaxOutputTokens         int                 `json:"max_output_tokens"`
	OutputModalities        []string            `json:"output_modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	TurnDetection           turnDetection       `json:"turn_detection"`
	InputAudioTranscription *transcriptionModel `json:"input_audio_transcription"`
}

type turnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMS int    `json:"silence_duration_ms"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

// buildSessionUpdate renders the session.update message sent once per session
// when the data channel opens. Disabled transcription is an explicit null,
// not an omitted field.
func buildSessionUpdate(config SessionConfig) ([]byte, error) {
	format := "pcm16"
	if config.LowBandwidth {
		format = "g711_ulaw"
	}
	modalities := []string{"audio"}
	if config.Transcribe {
		modalities = append(modalities, "text")
	}

	payload := sessionUpdate{
		Type: "session.update",
		Session: sessionPayload{
			InputAudioFormat:  format,
			OutputAudioFormat: format,
			MaxOutputTokens:   config.MaxOutputTokens,
			OutputModalities:  modalities,
			Instructions:      SessionInstructions,
			Voice:             config.Voice,
			TurnDetection: turnDetection{
				Type:              "server_vad",
				SilenceDurationMS: VADSilenceMS,
			},
		},
	}
	if config.Transcribe {
		payload.Session.InputAudioTranscription = &transcriptionModel{Model: TranscriptionModel}
	}
	return json.Marshal(payload)
}
