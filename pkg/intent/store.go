// Package intent persists the single-slot trade intent that triggers the
// engine. The slot survives restarts; at most one intent is active at a
// time, marked by a non-empty entry order id.
package intent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Intent is the persisted trade request. An empty EntryID means the slot
// is free.
type Intent struct {
	Symbol      string  `json:"symbol"`
	Quantity    int     `json:"quantity"`
	Exchange    string  `json:"exchange"`
	Tag         string  `json:"tag"`
	EntryID     string  `json:"entry_id"`
	ExitPrice   float64 `json:"exit_price"`
	TargetPrice float64 `json:"target_price"`
}

// Active reports whether the slot holds an in-flight trade.
func (i Intent) Active() bool { return i.EntryID != "" }

// Store is a single-slot file-backed register. Writes replace the slot
// wholesale via temp-file + rename, so readers never observe a torn record.
// Concurrent writers are not supported; the submission path is the only
// writer besides the engine's clear.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the current slot. A missing file is a free slot, not an error.
func (s *Store) Read() (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Intent{}, nil
		}
		return Intent{}, fmt.Errorf("read intent %s: %w", s.path, err)
	}

	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("parse intent %s: %w", s.path, err)
	}
	return in, nil
}

// Write replaces the slot.
func (s *Store) Write(in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create intent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".intent-*")
	if err != nil {
		return fmt.Errorf("create temp intent: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp intent: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp intent: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace intent %s: %w", s.path, err)
	}
	return nil
}

// Clear frees the slot, equivalent to writing an intent with no entry id.
func (s *Store) Clear() error {
	return s.Write(Intent{EntryID: ""})
}
