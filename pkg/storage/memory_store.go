package storage

import (
	"context"
	"sync"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// MemoryStore keeps histories in process memory. It is thread-safe and
// intended for development, tests and single-instance deployments.
type MemoryStore struct {
	Novelty

	data       map[string]*models.HistoryRecord // key: user id
	mu         sync.RWMutex
	maxSamples int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(maxSamples int) *MemoryStore {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	m := &MemoryStore{
		data:       make(map[string]*models.HistoryRecord),
		maxSamples: maxSamples,
	}
	m.Novelty = Novelty{m}
	return m
}

// Snapshot returns a deep copy of the user's record.
func (m *MemoryStore) Snapshot(_ context.Context, userID string) (*models.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.data[userID]; ok {
		return rec.Clone(), nil
	}
	return models.NewHistoryRecord(userID), nil
}

// RecordObservation merges obs into the user's record.
func (m *MemoryStore) RecordObservation(_ context.Context, obs *models.Observation) error {
	if err := validObservation(obs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.data[obs.UserID]
	if !ok {
		rec = models.NewHistoryRecord(obs.UserID)
		m.data[obs.UserID] = rec
	}
	rec.Merge(obs, m.maxSamples)
	return nil
}

// Len returns the number of users with history.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error { return nil }
