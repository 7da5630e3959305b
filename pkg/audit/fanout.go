package audit

import (
	"context"
	"errors"
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Fanout writes to a primary Store and mirrors writes to extra sinks.
// Queries go to the primary only.
type Fanout struct {
	primary Store
	mirrors []Sink
}

// NewFanout creates a fanout over primary and mirrors.
func NewFanout(primary Store, mirrors ...Sink) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors}
}

// Write stores rec in the primary first; mirrors are only written once the
// primary accepted it. Sinks are idempotent by id, so a retry after a mirror
// failure is safe.
func (f *Fanout) Write(ctx context.Context, rec *models.AuditRecord) error {
	if err := f.primary.Write(ctx, rec); err != nil {
		return err
	}
	var errs []error
	for _, m := range f.mirrors {
		errs = append(errs, m.Write(ctx, rec))
	}
	return errors.Join(errs...)
}

func (f *Fanout) AttachIPSignal(ctx context.Context, id string, sig *models.IPSignal) error {
	if err := f.primary.AttachIPSignal(ctx, id, sig); err != nil {
		return err
	}
	var errs []error
	for _, m := range f.mirrors {
		errs = append(errs, m.AttachIPSignal(ctx, id, sig))
	}
	return errors.Join(errs...)
}

func (f *Fanout) List(ctx context.Context, userID string, limit, offset int) ([]*models.AuditRecord, int, error) {
	return f.primary.List(ctx, userID, limit, offset)
}

func (f *Fanout) Stats(ctx context.Context, now time.Time) (*models.AuditStats, error) {
	return f.primary.Stats(ctx, now)
}

func (f *Fanout) Close() error {
	errs := []error{f.primary.Close()}
	for _, m := range f.mirrors {
		if c, ok := m.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
