// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/rapidaai/chirp/pkg/commons"
	"github.com/rapidaai/chirp/pkg/utils"
)

const (
	keyLowBandwidth    = "low_bandwidth"
	keyTranscribe      = "transcribe"
	keyMaxOutputTokens = "max_output_tokens"

	// MaxOutputTokens is stored clamped to this inclusive range.
	MinOutputTokens = 80
	MaxOutputTokens = 500

	defaultMaxOutputTokens = 200
)

// UserSettings are the session preferences read at every session start.
type UserSettings struct {
	LowBandwidth    bool
	Transcribe      bool
	MaxOutputTokens int
}

// Store persists user settings and notifies observers on change. The current
// value is always available without I/O; writes update the snapshot file
// synchronously.
type Store struct {
	mu        sync.Mutex
	logger    commons.Logger
	snapshot  *viper.Viper
	current   UserSettings
	observers []func(UserSettings)
}

// NewStore loads (or initialises) the settings snapshot under dataDir.
func NewStore(logger commons.Logger, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}

	snapshot := viper.New()
	snapshot.SetConfigFile(filepath.Join(dataDir, "settings.yaml"))
	snapshot.SetConfigType("yaml")
	snapshot.SetDefault(keyLowBandwidth, false)
	snapshot.SetDefault(keyTranscribe, true)
	snapshot.SetDefault(keyMaxOutputTokens, defaultMaxOutputTokens)

	if err := snapshot.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse settings snapshot: %w", err)
		}
	}

	s := &Store{
		logger:   logger,
		snapshot: snapshot,
	}
	s.current = s.load()
	return s, nil
}

// Current returns the settings as of the last update.
func (s *Store) Current() UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers an observer invoked on every settings change.
func (s *Store) Subscribe(fn func(UserSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Update applies fn to the current settings, persists and publishes the result.
// MaxOutputTokens is clamped to [MinOutputTokens, MaxOutputTokens].
func (s *Store) Update(fn func(UserSettings) UserSettings) error {
	s.mu.Lock()
	next := fn(s.current)
	next.MaxOutputTokens = utils.ClampInt(next.MaxOutputTokens, MinOutputTokens, MaxOutputTokens)
	s.current = next
	observers := append([]func(UserSettings){}, s.observers...)

	s.snapshot.Set(keyLowBandwidth, next.LowBandwidth)
	s.snapshot.Set(keyTranscribe, next.Transcribe)
	s.snapshot.Set(keyMaxOutputTokens, next.MaxOutputTokens)
	err := s.snapshot.WriteConfig()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warnw("Failed to persist settings snapshot", "error", err)
	}
	for _, fn := range observers {
		fn(next)
	}
	return err
}

func (s *Store) load() UserSettings {
	return UserSettings{
		LowBandwidth: s.snapshot.GetBool(keyLowBandwidth),
		Transcribe:   s.snapshot.GetBool(keyTranscribe),
		MaxOutputTokens: utils.ClampInt(
			s.snapshot.GetInt(keyMaxOutputTokens), MinOutputTokens, MaxOutputTokens),
	}
}
