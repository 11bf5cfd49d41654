package sched

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tgdog/internal/logger"
)

// StateStore persists the last firing time per task so that firings
// missed while the daemon was down can be detected and coalesced into a
// single catch-up run.
type StateStore struct {
	filePath string
	logger   *logger.Logger

	mu    sync.Mutex
	fires map[string]time.Time
}

type stateFile struct {
	LastFires map[string]time.Time `json:"last_fires"`
}

// NewStateStore loads (or initializes) the state file at filePath.
func NewStateStore(filePath string, log *logger.Logger) *StateStore {
	if log == nil {
		log = logger.NewNop()
	}
	s := &StateStore{
		filePath: filePath,
		logger:   log,
		fires:    make(map[string]time.Time),
	}
	s.load()
	return s
}

func (s *StateStore) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return
	}
	var loaded stateFile
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("failed to parse scheduler state, starting fresh",
			logger.Field{Key: "file", Value: s.filePath},
			logger.Field{Key: "error", Value: err})
		return
	}
	if loaded.LastFires != nil {
		s.fires = loaded.LastFires
	}
}

// save writes the state atomically via a temp file rename.
func (s *StateStore) save() {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		s.logger.Error("failed to create state directory", err,
			logger.Field{Key: "dir", Value: filepath.Dir(s.filePath)})
		return
	}

	data, err := json.MarshalIndent(stateFile{LastFires: s.fires}, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal scheduler state", err)
		return
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		s.logger.Error("failed to write scheduler state", err,
			logger.Field{Key: "file", Value: tmpPath})
		return
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		s.logger.Error("failed to replace scheduler state", err,
			logger.Field{Key: "file", Value: s.filePath})
	}
}

// LastFire returns the recorded last firing time for taskID.
func (s *StateStore) LastFire(taskID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.fires[taskID]
	return t, ok
}

// SetLastFire records a firing and persists the state.
func (s *StateStore) SetLastFire(taskID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fires[taskID] = t
	s.save()
}
