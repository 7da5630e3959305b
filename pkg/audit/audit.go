// Package audit persists every evaluation with its inputs and decision, and
// answers the history listing and statistics queries.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// ErrNotFound is returned when an evaluation id is unknown. Attaching a late
// IP signal may race the audit write, so callers retry on it.
var ErrNotFound = errors.New("evaluation not found")

// ErrPersistenceFailure wraps storage errors.
var ErrPersistenceFailure = errors.New("audit persistence failure")

// Sink receives evaluation records. Write must be idempotent by record id.
type Sink interface {
	Write(ctx context.Context, rec *models.AuditRecord) error
	AttachIPSignal(ctx context.Context, id string, sig *models.IPSignal) error
}

// Reader answers queries over stored evaluations.
type Reader interface {
	// List returns a user's evaluations, newest first, and the total count.
	// An empty userID lists every user.
	List(ctx context.Context, userID string, limit, offset int) ([]*models.AuditRecord, int, error)
	Stats(ctx context.Context, now time.Time) (*models.AuditStats, error)
}

// Store is a queryable sink.
type Store interface {
	Sink
	Reader
	Close() error
}

// highRisk reports whether a level counts towards the high-risk statistic.
func highRisk(l models.Level) bool {
	return l == models.LevelHigh || l == models.LevelCritical
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
