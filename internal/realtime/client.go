// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/rapidaai/chirp/pkg/commons"
	"github.com/rapidaai/chirp/pkg/utils"
)

// TranscriptSink receives transcript mutations from event dispatch.
type TranscriptSink interface {
	Ensure(ctx context.Context, itemID, role, initial string)
	Append(ctx context.Context, itemID, delta string)
	Finalize(ctx context.Context, itemID, text string)
}

// CredentialSource resolves the long-lived provider credential.
type CredentialSource interface {
	Get() (string, error)
}

// ============================================================================
// Client
// ============================================================================

// Client drives one realtime session at a time: provider handshake, peer
// transport, data-channel protocol and transcript dispatch. The transport
// handles live in an activeSession value created by Start and consumed by
// Stop, so exactly one start/stop pair owns them.
type Client struct {
	logger      commons.Logger
	provider    ProviderClient
	credentials CredentialSource
	transcripts TranscriptSink
	capture     CaptureSource
	sink        AudioSink

	mu     sync.Mutex
	active *activeSession
}

// activeSession owns every per-session handle. It is created by Start,
// registered under the client mutex, and invalidated exactly once by teardown.
type activeSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	pc      *pionwebrtc.PeerConnection
	dc      *pionwebrtc.DataChannel
	source  io.ReadCloser
	eventCh chan []byte
}

// NewClient creates a realtime session client. sink may be nil (remote audio
// is drained and discarded).
func NewClient(
	logger commons.Logger,
	provider ProviderClient,
	credentials CredentialSource,
	transcripts TranscriptSink,
	capture CaptureSource,
	sink AudioSink,
) *Client {
	return &Client{
		logger:      logger,
		provider:    provider,
		credentials: credentials,
		transcripts: transcripts,
		capture:     capture,
		sink:        sink,
	}
}

// Start negotiates a session and reports every state transition via onStatus.
// Any failure publishes a single Error state, tears the session down and
// returns the underlying error.
func (c *Client) Start(ctx context.Context, config SessionConfig, onStatus StatusFunc) error {
	config = config.withDefaults()

	apiKey, err := c.credentials.Get()
	if err != nil || utils.IsEmpty(apiKey) {
		onStatus(SessionState{Status: StatusError, Message: "Missing API key", Error: "API key required"})
		return ErrMissingAPIKey
	}

	onStatus(SessionState{Status: StatusConnecting, Message: "Requesting session…"})

	info, err := c.provider.CreateSession(ctx, apiKey, config)
	if err != nil {
		c.fail(onStatus, err)
		return err
	}

	onStatus(SessionState{Status: StatusConnecting, Message: "Preparing audio…"})

	sess, err := c.openSession(ctx, config, onStatus)
	if err != nil {
		c.fail(onStatus, err)
		return err
	}

	if err := c.negotiate(ctx, sess, info); err != nil {
		c.fail(onStatus, err)
		return err
	}

	onStatus(SessionState{Status: StatusConnected, Message: "Connected — speak now", IsLive: true})
	return nil
}

// openSession builds the peer connection, audio path and data channel, and
// registers the resulting activeSession as the client's current one. A
// previous session still registered is torn down first.
func (c *Client) openSession(ctx context.Context, config SessionConfig, onStatus StatusFunc) (*activeSession, error) {
	api, err := mediaEngine()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{
		ICEServers: []pionwebrtc.ICEServer{{URLs: DefaultSTUNServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		id:      uuid.New().String(),
		ctx:     sessCtx,
		cancel:  cancel,
		pc:      pc,
		eventCh: make(chan []byte, EventQueueSize),
	}

	// Supplementary status corrections from the transport itself — not steps
	// of the main flow.
	pc.OnICEConnectionStateChange(func(state pionwebrtc.ICEConnectionState) {
		c.logger.Infow("ICE connection state changed", "state", state.String(), "session", sess.id)
		switch state {
		case pionwebrtc.ICEConnectionStateConnected, pionwebrtc.ICEConnectionStateCompleted:
			onStatus(SessionState{Status: StatusConnected, Message: "Connected — speak now", IsLive: true})
		case pionwebrtc.ICEConnectionStateDisconnected,
			pionwebrtc.ICEConnectionStateFailed,
			pionwebrtc.ICEConnectionStateClosed:
			onStatus(SessionState{Status: StatusIdle, Message: "Disconnected"})
		}
	})

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		c.logger.Infow("Remote audio track received", "codec", track.Codec().MimeType)
		go drainRemoteAudio(sess.ctx, c.logger, track, c.sink)
	})

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: OpusSampleRate,
			Channels:  OpusChannels,
		},
		LocalTrackID,
		LocalTrackStream,
	)
	if err != nil {
		cancel()
		pc.Close()
		return nil, fmt.Errorf("failed to create local audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		cancel()
		pc.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	source, err := c.capture.Start(sess.ctx)
	if err != nil {
		cancel()
		pc.Close()
		return nil, fmt.Errorf("failed to acquire audio capture: %w", err)
	}
	sess.source = source
	go pumpLocalAudio(sess.ctx, c.logger, source, track)

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		cancel()
		source.Close()
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	sess.dc = dc

	dc.OnOpen(func() {
		payload, err := buildSessionUpdate(config)
		if err != nil {
			c.logger.Errorw("Failed to build session.update", "error", err)
			return
		}
		if err := dc.Send(payload); err != nil {
			c.logger.Errorw("Failed to send session.update", "error", err)
		}
	})
	dc.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
		// Never block the transport callback: enqueue for the dispatch worker.
		select {
		case sess.eventCh <- msg.Data:
		default:
			c.logger.Warnw("Event queue full, dropping message", "session", sess.id)
		}
	})

	go c.runEventDispatch(sess, onStatus)

	// Register as the current session; a stale one (overlapping start) is
	// released first so no two sessions share transport handles.
	c.mu.Lock()
	previous := c.active
	c.active = sess
	c.mu.Unlock()
	if previous != nil {
		c.teardown(previous)
	}

	return sess, nil
}

// negotiate runs the SDP offer/answer exchange with a bounded ICE gathering
// wait. Incomplete gathering is non-fatal: the offer ships with whatever
// candidates exist when the bound expires.
func (c *Client) negotiate(ctx context.Context, sess *activeSession, info *SessionInfo) error {
	offer, err := sess.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := pionwebrtc.GatheringCompletePromise(sess.pc)
	if err := sess.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(ICEGatheringTimeoutMS * time.Millisecond):
		c.logger.Warnw("ICE gathering incomplete, proceeding with partial candidates", "session", sess.id)
	case <-ctx.Done():
		return ctx.Err()
	}

	local := sess.pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("no local description after gathering")
	}

	answer, err := c.provider.ExchangeSDP(ctx, info.ClientSecret, info.Model, local.SDP)
	if err != nil {
		return err
	}

	if err := sess.pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// Stop releases the current session's resources. Idempotent; safe when no
// session is active. Teardown errors are swallowed per-resource so one
// failing handle never leaks the others.
func (c *Client) Stop() {
	c.mu.Lock()
	sess := c.active
	c.active = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	c.teardown(sess)
}

func (c *Client) teardown(sess *activeSession) {
	if sess.dc != nil {
		sess.dc.OnMessage(func(pionwebrtc.DataChannelMessage) {})
		if err := sess.dc.Close(); err != nil {
			c.logger.Debugw("Data channel close failed", "error", err, "session", sess.id)
		}
	}
	if sess.pc != nil {
		if err := sess.pc.Close(); err != nil {
			c.logger.Debugw("Peer connection close failed", "error", err, "session", sess.id)
		}
	}
	if sess.source != nil {
		if err := sess.source.Close(); err != nil {
			c.logger.Debugw("Capture source close failed", "error", err, "session", sess.id)
		}
	}
	sess.cancel()
}

// fail publishes a single Error state and tears the session down.
func (c *Client) fail(onStatus StatusFunc, err error) {
	message := "Connection failed"
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if utils.IsEmpty(detail) {
		detail = message
	}
	onStatus(SessionState{Status: StatusError, Message: message, Error: detail})
	c.Stop()
}

// ============================================================================
// Event dispatch
// ============================================================================

// runEventDispatch is the single consumer of a session's inbound events.
// One worker per session keeps per-item transcript ordering without holding
// up the transport callback; durable-store latency lands here, never there.
func (c *Client) runEventDispatch(sess *activeSession, onStatus StatusFunc) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case raw := <-sess.eventCh:
			c.handleEvent(sess.ctx, raw, onStatus)
		}
	}
}

// handleEvent decodes and applies one inbound data-channel message.
// Malformed payloads are dropped; they must never crash the client.
func (c *Client) handleEvent(ctx context.Context, raw []byte, onStatus StatusFunc) {
	event, err := DecodeEvent(raw)
	if err != nil {
		c.logger.Debugw("Dropping malformed event", "error", err)
		return
	}

	switch e := event.(type) {
	case *EventError:
		onStatus(SessionState{Status: StatusError, Message: e.Message})

	case *EventItemCreated:
		c.transcripts.Ensure(ctx, e.ItemID, e.Role, e.Text)

	case *EventInputTranscriptionDelta:
		c.transcripts.Append(ctx, e.ItemID, e.Delta)

	case *EventInputTranscriptionCompleted:
		c.transcripts.Finalize(ctx, e.ItemID, e.Transcript)

	case *EventResponseTranscriptDelta:
		c.transcripts.Append(ctx, e.ItemID, e.Delta)

	case *EventResponseTranscriptDone:
		c.transcripts.Finalize(ctx, e.ItemID, e.Transcript)

	case *EventResponseDone:
		for _, item := range e.Items {
			c.transcripts.Finalize(ctx, item.ItemID, item.Text)
		}

	case *EventUnknown:
		// Forward-compatible: recognised shape, no action.
	}
}
