// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_secret

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store holds the long-lived provider credential. Secure-at-rest storage is a
// platform concern; this contract is an opaque getter/setter and the default
// implementation keeps the value in a 0600 file under the data directory.
type Store interface {
	// Get returns the stored credential, or "" when none is set.
	Get() (string, error)

	// Set stores the credential, trimming surrounding whitespace.
	Set(value string) error

	// Clear removes the stored credential.
	Clear() error
}

type fileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a credential store backed by a single file in dataDir.
func NewFileStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	return &fileStore{path: filepath.Join(dataDir, "credential")}, nil
}

func (s *fileStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *fileStore) Set(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path, []byte(strings.TrimSpace(value)), 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

func (s *fileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
