package audit

import (
	"context"
	"sync"
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*models.AuditRecord // insertion order
	byID    map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) Write(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if i, ok := s.byID[rec.ID]; ok {
		// Keep a signal attached by an earlier AttachIPSignal.
		if cp.IPSignal == nil {
			cp.IPSignal = s.records[i].IPSignal
		}
		s.records[i] = &cp
		return nil
	}
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryStore) AttachIPSignal(_ context.Context, id string, sig *models.IPSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cp := *s.records[i]
	sigCopy := *sig
	cp.IPSignal = &sigCopy
	s.records[i] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string, limit, offset int) ([]*models.AuditRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.AuditRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if userID == "" || s.records[i].UserID == userID {
			matched = append(matched, s.records[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return []*models.AuditRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]*models.AuditRecord, 0, end-offset)
	for _, r := range matched[offset:end] {
		cp := *r
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (*models.AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := startOfDay(now)
	week := now.Add(-7 * 24 * time.Hour)
	st := &models.AuditStats{}
	for _, r := range s.records {
		st.Total++
		if !r.CreatedAt.Before(today) {
			st.Today++
		}
		if !r.CreatedAt.Before(week) {
			st.LastWeek++
		}
		res := r.Result
		if res == nil {
			continue
		}
		if highRisk(res.Level) {
			st.HighRisk++
		}
		if res.Blocked {
			st.Blocked++
		}
		if res.NewDevice {
			st.NewDevices++
		}
		if res.NewIP {
			st.NewIPs++
		}
		if res.VPNDetected {
			st.VPNs++
		}
		if res.BotDetected {
			st.Bots++
		}
		if res.ImpossibleTravel {
			st.ImpossibleTravel++
		}
	}
	return st, nil
}

func (s *MemoryStore) Close() error { return nil }
