// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/chirp/pkg/commons"
)

// Envelope is the framing for every relay message, both directions: a routing
// path plus an opaque payload.
type Envelope struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay paths.
const (
	PathStatus     = "status"
	PathTranscript = "transcript"
	PathStart      = "start"
	PathStop       = "stop"
)

const writeTimeout = 5 * time.Second

// CommandHandler receives inbound session commands from companion peers.
type CommandHandler interface {
	Start()
	Stop()
}

// ============================================================================
// Hub
// ============================================================================

// Hub accepts companion websocket connections and pushes envelopes to every
// connected peer. Delivery is best-effort per peer: a failed write evicts that
// peer and never blocks delivery to the others.
type Hub struct {
	logger   commons.Logger
	commands CommandHandler
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// peer is one connected companion. Writes are serialized by the peer mutex so
// broadcasts and pings never interleave frames.
type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub creates a relay hub. Inbound start/stop envelopes are forwarded to
// commands.
func NewHub(logger commons.Logger, commands CommandHandler) *Hub {
	return &Hub{
		logger:   logger,
		commands: commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Companions are local trusted processes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

// ServeHTTP upgrades a companion connection and reads its command envelopes
// until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Companion upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	p := &peer{conn: conn}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	count := len(h.peers)
	h.mu.Unlock()
	h.logger.Infow("Companion connected", "remote", r.RemoteAddr, "peers", count)

	defer h.evict(p)
	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnw("Companion read failed", "error", err, "remote", r.RemoteAddr)
			}
			return
		}
		h.handleCommand(envelope)
	}
}

func (h *Hub) handleCommand(envelope Envelope) {
	switch envelope.Path {
	case PathStart:
		h.commands.Start()
	case PathStop:
		h.commands.Stop()
	default:
		h.logger.Debugw("Ignoring unknown companion command", "path", envelope.Path)
	}
}

// Broadcast marshals payload into an envelope and pushes it to every peer.
// Failures are logged and the failing peer evicted; nothing is retried.
func (h *Hub) Broadcast(path string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Errorw("Failed to marshal relay payload", "path", path, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Path: path, Payload: raw})
	if err != nil {
		h.logger.Errorw("Failed to marshal relay envelope", "path", path, "error", err)
		return
	}

	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.write(data); err != nil {
			h.logger.Warnw("Dropping companion after failed write", "path", path, "error", err)
			h.evict(p)
		}
	}
}

// PeerCount returns the number of connected companions.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		h.evict(p)
	}
}

func (h *Hub) evict(p *peer) {
	h.mu.Lock()
	_, present := h.peers[p]
	delete(h.peers, p)
	h.mu.Unlock()

	if present {
		p.conn.Close()
	}
}
