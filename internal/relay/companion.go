// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/chirp/pkg/commons"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// ErrNotConnected is returned by commands issued while the hub is unreachable.
var ErrNotConnected = errors.New("relay hub not connected")

// CompanionClient is the companion side of the relay: it maintains a websocket
// connection to the hub, mirrors inbound status/transcript pushes into the
// state store and carries start/stop commands back.
type CompanionClient struct {
	logger commons.Logger
	url    string
	state  *StateStore

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewCompanionClient creates a companion client for the hub at url
// (e.g. ws://127.0.0.1:8390/relay).
func NewCompanionClient(logger commons.Logger, url string, state *StateStore) *CompanionClient {
	return &CompanionClient{logger: logger, url: url, state: state}
}

// Run connects to the hub and processes pushes until ctx is cancelled,
// reconnecting with capped backoff after every disconnect.
func (c *CompanionClient) Run(ctx context.Context) error {
	delay := reconnectMinDelay
	for {
		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warnw("Relay connection lost, reconnecting", "error", err, "delay", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *CompanionClient) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.logger.Infow("Connected to relay hub", "url", c.url)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Drop the read loop as soon as ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return err
		}
		c.handlePush(envelope)
	}
}

func (c *CompanionClient) handlePush(envelope Envelope) {
	switch envelope.Path {
	case PathStatus:
		var payload StatusPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.logger.Debugw("Dropping malformed status push", "error", err)
			return
		}
		c.state.SetStatus(payload.Status, payload.Live)

	case PathTranscript:
		var payload TranscriptPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.logger.Debugw("Dropping malformed transcript push", "error", err)
			return
		}
		c.state.SetTranscript(payload.Text)

	default:
		c.logger.Debugw("Ignoring unknown push", "path", envelope.Path)
	}
}

// SendStart asks the hub to start a session.
func (c *CompanionClient) SendStart() error { return c.sendCommand(PathStart) }

// SendStop asks the hub to stop the session.
func (c *CompanionClient) SendStop() error { return c.sendCommand(PathStop) }

func (c *CompanionClient) sendCommand(path string) error {
	data, err := json.Marshal(Envelope{Path: path})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
