// Package history keeps an audit log of swap orchestrations in a JSON file.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"stableswap/pkg/swap"
)

const (
	DefaultStorageFileName = ".stableswap-history.json"
	DefaultMaxRecords      = 1000
)

// Storage handles persistence of swap results
type Storage struct {
	filePath   string
	maxRecords int
	mu         sync.RWMutex
	records    []swap.Result
}

// historyFile represents the JSON structure for storage
type historyFile struct {
	Swaps []swap.Result `json:"swaps"`
}

// NewStorage loads filePath, or ~/.stableswap-history.json when empty.
// maxRecords bounds the log; zero keeps everything.
func NewStorage(filePath string, maxRecords int) (*Storage, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	s := &Storage{filePath: filePath, maxRecords: maxRecords}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return s, nil
}

func (s *Storage) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}
	s.records = f.Swaps
	return nil
}

// save writes records to disk; callers hold mu.
func (s *Storage) save() error {
	data, err := json.MarshalIndent(historyFile{Swaps: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file first, then rename for atomic write
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), filepath.Base(s.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Record appends result and persists the log. It implements swap.Recorder.
// The file is re-read first so records written by other processes since
// NewStorage are kept.
func (s *Storage) Record(_ context.Context, result swap.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to reload history: %w", err)
	}
	s.records = append(s.records, result)
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		s.records = append([]swap.Result(nil), s.records[len(s.records)-s.maxRecords:]...)
	}
	return s.save()
}

// Get finds a result by id
func (s *Storage) Get(id uuid.UUID) (swap.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return swap.Result{}, fmt.Errorf("swap '%s' not found", id)
}

// List returns results newest first. limit <= 0 returns all of them.
func (s *Storage) List(limit int) []swap.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]swap.Result, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListByState returns results that ended in state, newest first
func (s *Storage) ListByState(state swap.State) []swap.Result {
	var out []swap.Result
	for _, r := range s.List(0) {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of stored results
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetFilePath returns the storage file path
func (s *Storage) GetFilePath() string {
	return s.filePath
}

var _ swap.Recorder = (*Storage)(nil)
