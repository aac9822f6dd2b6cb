// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/rapidaai/chirp/pkg/commons"
)

const (
	keyStatus         = "status"
	keyIsLive         = "is_live"
	keyLastTranscript = "last_transcript"
)

// CompanionState is the companion-side mirror of the session: last known
// status plus the most recent transcript line. It survives companion restarts
// so a reconnecting companion shows something sensible before the first push.
type CompanionState struct {
	Status         string
	IsLive         bool
	LastTranscript string
}

// StateStore persists CompanionState as a snapshot file under dataDir.
type StateStore struct {
	mu        sync.Mutex
	logger    commons.Logger
	snapshot  *viper.Viper
	current   CompanionState
	observers []func(CompanionState)
}

// NewStateStore loads (or initialises) the companion state snapshot.
func NewStateStore(logger commons.Logger, dataDir string) (*StateStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}

	snapshot := viper.New()
	snapshot.SetConfigFile(filepath.Join(dataDir, "companion.yaml"))
	snapshot.SetConfigType("yaml")
	snapshot.SetDefault(keyStatus, "idle")
	snapshot.SetDefault(keyIsLive, false)
	snapshot.SetDefault(keyLastTranscript, "")

	if err := snapshot.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse companion state snapshot: %w", err)
		}
	}

	s := &StateStore{logger: logger, snapshot: snapshot}
	s.current = CompanionState{
		Status:         snapshot.GetString(keyStatus),
		IsLive:         snapshot.GetBool(keyIsLive),
		LastTranscript: snapshot.GetString(keyLastTranscript),
	}
	return s, nil
}

// Current returns the state as of the last update.
func (s *StateStore) Current() CompanionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers an observer invoked after every state change.
func (s *StateStore) Subscribe(fn func(CompanionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// SetStatus records a status push.
func (s *StateStore) SetStatus(status string, live bool) {
	s.apply(func(state CompanionState) CompanionState {
		state.Status = status
		state.IsLive = live
		return state
	})
}

// SetTranscript records a transcript push.
func (s *StateStore) SetTranscript(text string) {
	s.apply(func(state CompanionState) CompanionState {
		state.LastTranscript = text
		return state
	})
}

func (s *StateStore) apply(fn func(CompanionState) CompanionState) {
	s.mu.Lock()
	next := fn(s.current)
	s.current = next
	observers := append([]func(CompanionState){}, s.observers...)

	s.snapshot.Set(keyStatus, next.Status)
	s.snapshot.Set(keyIsLive, next.IsLive)
	s.snapshot.Set(keyLastTranscript, next.LastTranscript)
	err := s.snapshot.WriteConfig()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warnw("Failed to persist companion state snapshot", "error", err)
	}
	for _, fn := range observers {
		fn(next)
	}
}
