package storage

import (
	"context"
	"errors"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// ErrUnavailable wraps backend failures so callers can degrade instead of
// failing the evaluation.
var ErrUnavailable = errors.New("history store unavailable")

// DefaultMaxSamples is how many behavior feature vectors a user keeps.
const DefaultMaxSamples = 50

// HistoryStore defines the per-user identity history used for novelty
// checks. Implementations can use any backend: in-memory, Redis, buntdb.
//
// Records only grow. RecordObservation must be idempotent for novelty
// (recording the same device twice leaves it known exactly once) and safe
// under concurrent calls for the same user.
type HistoryStore interface {
	IsKnownDevice(ctx context.Context, userID, deviceHash string) (bool, error)
	IsKnownIP(ctx context.Context, userID, ip string) (bool, error)
	IsKnownLocation(ctx context.Context, userID string, lat, lon, toleranceMeters float64) (bool, error)
	RecordObservation(ctx context.Context, obs *models.Observation) error

	// Snapshot returns a point-in-time copy of the user's history. A user
	// with no history gets an empty record, not an error.
	Snapshot(ctx context.Context, userID string) (*models.HistoryRecord, error)

	Close() error
}

// Snapshotter is the part of a store that can produce a full record.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID string) (*models.HistoryRecord, error)
}

// Novelty answers the point lookups of HistoryStore from a Snapshot.
// Backends embed it when they have no cheaper way to answer.
type Novelty struct {
	Snapshotter
}

func (n Novelty) IsKnownDevice(ctx context.Context, userID, deviceHash string) (bool, error) {
	h, err := n.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return h.KnowsDevice(deviceHash), nil
}

func (n Novelty) IsKnownIP(ctx context.Context, userID, ip string) (bool, error) {
	h, err := n.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return h.KnowsIP(ip), nil
}

func (n Novelty) IsKnownLocation(ctx context.Context, userID string, lat, lon, toleranceMeters float64) (bool, error) {
	h, err := n.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return h.KnowsLocation(lat, lon, toleranceMeters), nil
}

func validObservation(obs *models.Observation) error {
	if obs == nil {
		return errors.New("observation must not be nil")
	}
	if obs.UserID == "" {
		return errors.New("observation without user id")
	}
	return nil
}
