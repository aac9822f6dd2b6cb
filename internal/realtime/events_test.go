// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// DecodeEvent
// ============================================================================

func TestDecodeEvent_Error(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"error","error":{"message":"session expired"}}`))
	require.NoError(t, err)

	e, ok := event.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "session expired", e.Message)
}

func TestDecodeEvent_ErrorWithoutMessage(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"error"}`))
	require.NoError(t, err)

	e, ok := event.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "Realtime error", e.Message)
}

func TestDecodeEvent_ItemCreated(t *testing.T) {
	raw := `{"type":"conversation.item.created","item":{
		"id":"item-1","type":"message","role":"user",
		"content":[{"type":"input_text","text":"hello"}]}}`

	event, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)

	e, ok := event.(*EventItemCreated)
	require.True(t, ok)
	assert.Equal(t, "item-1", e.ItemID)
	assert.Equal(t, "user", e.Role)
	assert.Equal(t, "hello", e.Text)
}

func TestDecodeEvent_ItemCreated_NonMessageIgnored(t *testing.T) {
	raw := `{"type":"conversation.item.created","item":{"id":"fn-1","type":"function_call","role":"assistant"}}`

	event, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	assert.IsType(t, &EventUnknown{}, event)
}

func TestDecodeEvent_ItemCreated_SystemRoleIgnored(t *testing.T) {
	raw := `{"type":"conversation.item.created","item":{"id":"sys-1","type":"message","role":"system"}}`

	event, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	assert.IsType(t, &EventUnknown{}, event)
}

func TestDecodeEvent_TranscriptionDeltas(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			"input delta",
			`{"type":"conversation.item.input_audio_transcription.delta","item_id":"i1","delta":"hel"}`,
			&EventInputTranscriptionDelta{ItemID: "i1", Delta: "hel"},
		},
		{
			"input completed",
			`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hello"}`,
			&EventInputTranscriptionCompleted{ItemID: "i1", Transcript: "hello"},
		},
		{
			"response delta",
			`{"type":"response.audio_transcript.delta","item_id":"r1","delta":"hi"}`,
			&EventResponseTranscriptDelta{ItemID: "r1", Delta: "hi"},
		},
		{
			"response done",
			`{"type":"response.audio_transcript.done","item_id":"r1","transcript":"hi there"}`,
			&EventResponseTranscriptDone{ItemID: "r1", Transcript: "hi there"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
		})
	}
}

func TestDecodeEvent_ResponseDone(t *testing.T) {
	raw := `{"type":"response.done","response":{"output":[
		{"id":"x","type":"message","role":"assistant","content":[{"type":"output_text","text":"hi"}]},
		{"id":"skip","type":"function_call","role":"assistant"},
		{"id":"y","type":"message","role":"assistant","content":[{"type":"audio","transcript":"bye"}]}
	]}}`

	event, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)

	e, ok := event.(*EventResponseDone)
	require.True(t, ok)
	require.Len(t, e.Items, 2)
	assert.Equal(t, FinalItem{ItemID: "x", Text: "hi"}, e.Items[0])
	assert.Equal(t, FinalItem{ItemID: "y", Text: "bye"}, e.Items[1])
}

func TestDecodeEvent_UnknownKind(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"rate_limits.updated"}`))
	require.NoError(t, err)

	e, ok := event.(*EventUnknown)
	require.True(t, ok)
	assert.Equal(t, "rate_limits.updated", e.Type)
}

func TestDecodeEvent_MalformedJSON(t *testing.T) {
	_, err := DecodeEvent([]byte(`{not json`))
	assert.Error(t, err)
}

// ============================================================================
// textFromContent
// ============================================================================

func TestTextFromContent(t *testing.T) {
	tests := []struct {
		name     string
		parts    []wireContentPart
		expected string
	}{
		{"empty", nil, ""},
		{"input text", []wireContentPart{{Type: "input_text", Text: "hi"}}, "hi"},
		{"output text", []wireContentPart{{Type: "output_text", Text: "hello"}}, "hello"},
		{"audio transcript", []wireContentPart{{Type: "audio", Transcript: "spoken"}}, "spoken"},
		{
			"first text-bearing part wins",
			[]wireContentPart{{Type: "audio"}, {Type: "output_text", Text: "later"}},
			"later",
		},
		{
			"audio transcript before text",
			[]wireContentPart{{Type: "audio", Transcript: "first"}, {Type: "output_text", Text: "second"}},
			"first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textFromContent(tt.parts))
		})
	}
}

// ============================================================================
// session.update
// ============================================================================

func TestBuildSessionUpdate_TranscriptionEnabled(t *testing.T) {
	raw, err := buildSessionUpdate(SessionConfig{
		Transcribe:      true,
		MaxOutputTokens: 200,
		Voice:           "verse",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "session.update", payload["type"])

	session := payload["session"].(map[string]any)
	assert.Equal(t, "pcm16", session["input_audio_format"])
	assert.Equal(t, "pcm16", session["output_audio_format"])
	assert.Equal(t, float64(200), session["max_output_tokens"])
	assert.Equal(t, []any{"audio", "text"}, session["output_modalities"])
	assert.Equal(t, "verse", session["voice"])

	turn := session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", turn["type"])
	assert.Equal(t, float64(400), turn["silence_duration_ms"])

	transcription := session["input_audio_transcription"].(map[string]any)
	assert.Equal(t, TranscriptionModel, transcription["model"])
}

func TestBuildSessionUpdate_TranscriptionDisabledIsExplicitNull(t *testing.T) {
	raw, err := buildSessionUpdate(SessionConfig{
		Transcribe:      false,
		LowBandwidth:    true,
		MaxOutputTokens: 120,
		Voice:           "verse",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	session := payload["session"].(map[string]any)

	assert.Equal(t, "g711_ulaw", session["input_audio_format"])
	assert.Equal(t, []any{"audio"}, session["output_modalities"])

	// Field must be present and null, not omitted.
	value, present := session["input_audio_transcription"]
	assert.True(t, present, "input_audio_transcription must be serialised")
	assert.Nil(t, value)
}
