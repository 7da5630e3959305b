package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/buntdb"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

const (
	historyTable   = "history"
	blocklistTable = "blocklist"
)

// BuntStore keeps one JSON document per user in an embedded buntdb file.
// Writes read, merge and store the document inside a single update
// transaction; buntdb serializes writers so concurrent merges cannot lose
// each other's entries.
type BuntStore struct {
	Novelty

	path       string
	db         *buntdb.DB
	maxSamples int
}

// NewBuntStore opens (or creates) the database at path. Use ":memory:" for a
// non-persistent store.
func NewBuntStore(path string, maxSamples int, logger zerolog.Logger) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	s := &BuntStore{path: path, db: db, maxSamples: maxSamples}
	s.Novelty = Novelty{s}

	if path != ":memory:" {
		// A failed compaction leaves a larger but intact file.
		if err := db.Shrink(); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("history db compaction failed")
		}
	}
	return s, nil
}

func (s *BuntStore) key(userID string) string {
	return historyTable + ":" + userID
}

// Snapshot loads the user's document.
func (s *BuntStore) Snapshot(_ context.Context, userID string) (*models.HistoryRecord, error) {
	rec := models.NewHistoryRecord(userID)
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(s.key(userID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), rec)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// RecordObservation merges obs into the stored document.
func (s *BuntStore) RecordObservation(_ context.Context, obs *models.Observation) error {
	if err := validObservation(obs); err != nil {
		return err
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		rec := models.NewHistoryRecord(obs.UserID)
		raw, err := tx.Get(s.key(obs.UserID))
		switch {
		case err == buntdb.ErrNotFound:
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), rec); err != nil {
				return err
			}
		}

		rec.Merge(obs, s.maxSamples)

		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(s.key(obs.UserID), string(out), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: record observation: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *BuntStore) Close() error { return s.db.Close() }

// Blocklist returns a blocklist stored in the same database.
func (s *BuntStore) Blocklist() *BuntBlocklist {
	return &BuntBlocklist{db: s.db}
}

// BuntBlocklist keeps one JSON entry per key "blocklist:<kind>:<value>".
type BuntBlocklist struct {
	db *buntdb.DB
}

func blockKey(kind BlockKind, value string) string {
	return blocklistTable + ":" + string(kind) + ":" + value
}

func (b *BuntBlocklist) Block(_ context.Context, e BlockEntry) error {
	e, err := prepareBlock(e)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(blockKey(e.Kind, e.Value), string(raw), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: block: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *BuntBlocklist) Unblock(_ context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, err
	}
	found := true
	err = b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(blockKey(kind, v))
		if err == buntdb.ErrNotFound {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: unblock: %v", ErrUnavailable, err)
	}
	return found, nil
}

func (b *BuntBlocklist) IsBlocked(_ context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, nil
	}
	found := false
	err = b.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(blockKey(kind, v))
		switch err {
		case nil:
			found = true
		case buntdb.ErrNotFound:
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: blocklist lookup: %v", ErrUnavailable, err)
	}
	return found, nil
}

func (b *BuntBlocklist) List(_ context.Context, kind BlockKind) ([]BlockEntry, error) {
	if _, err := ParseBlockKind(string(kind)); err != nil {
		return nil, err
	}
	out := []BlockEntry{}
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(blockKey(kind, "*"), func(_, raw string) bool {
			var e BlockEntry
			if json.Unmarshal([]byte(raw), &e) == nil {
				out = append(out, e)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list blocklist: %v", ErrUnavailable, err)
	}
	sortEntries(out)
	return out, nil
}
