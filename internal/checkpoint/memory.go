package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/session"
)

// MemoryStore implements Store with an in-memory map, optionally backed
// by a JSON snapshot file so checkpoints survive restarts in local runs.
// Unlike a cache, the snapshot write happens synchronously inside Put:
// durability before return is part of the Store contract.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*session.State

	snapshotPath string // empty = no persistence (tests)
	saveMu       sync.Mutex
}

// NewMemoryStore creates an in-memory checkpoint store. If path is
// non-empty, existing checkpoints are loaded from it and every Put is
// flushed back to it.
func NewMemoryStore(path string) *MemoryStore {
	m := &MemoryStore{
		threads:      make(map[string]*session.State),
		snapshotPath: path,
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Cannot create checkpoint dir, persistence disabled")
			m.snapshotPath = ""
		} else {
			m.loadSnapshot()
		}
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID string) (*session.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.threads[threadID]
	if !ok {
		return nil, &ErrNotFound{Thread: threadID}
	}
	return st.Clone(), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, threadID string, st *session.State) error {
	m.mu.Lock()
	m.threads[threadID] = st.Clone()
	m.mu.Unlock()
	return m.saveSnapshot()
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	if _, ok := m.threads[threadID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Thread: threadID}
	}
	delete(m.threads, threadID)
	m.mu.Unlock()
	return m.saveSnapshot()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return m.saveSnapshot()
}

// saveSnapshot persists all checkpoints as one JSON document, written
// to a temp file and renamed for atomicity.
func (m *MemoryStore) saveSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}

	// saveMu spans marshal and write together: marshaling under only the
	// read lock would let two Puts race to the file in the wrong order,
	// replacing a newer snapshot with a stale one.
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	data, err := json.MarshalIndent(m.threads, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.snapshotPath)
}

// loadSnapshot reads checkpoints from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No checkpoint snapshot found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read checkpoint snapshot")
		return
	}

	var threads map[string]*session.State
	if err := json.Unmarshal(data, &threads); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse checkpoint snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	if threads != nil {
		m.threads = threads
	}
	m.mu.Unlock()

	log.Info().Int("threads", len(threads)).Str("path", m.snapshotPath).Msg("Checkpoint snapshot loaded")
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
