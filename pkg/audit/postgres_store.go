package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists evaluations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Write(ctx context.Context, rec *models.AuditRecord) error {
	res := rec.Result
	if res == nil {
		return fmt.Errorf("%w: record %s has no result", ErrPersistenceFailure, rec.ID)
	}

	signals, err := json.Marshal(res.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	result, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_evaluations (
			id, user_id, event_type, client_hash, device_hash, ip_address,
			score, level, blocked, new_device, new_ip, vpn_detected, bot_detected, impossible_travel,
			signals, fingerprint_data, geolocation, behavior, ip_signal, result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID,
		nullString(rec.UserID),
		rec.EventType,
		rec.ClientHash,
		rec.DeviceHash,
		rec.IPAddress,
		res.Score,
		string(res.Level),
		res.Blocked,
		res.NewDevice,
		res.NewIP,
		res.VPNDetected,
		res.BotDetected,
		res.ImpossibleTravel,
		signals,
		jsonOrNull(rec.FingerprintData),
		jsonOrNull(rec.Geolocation),
		jsonOrNull(rec.Behavior),
		jsonOrNull(rec.IPSignal),
		result,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert evaluation: %v", ErrPersistenceFailure, err)
	}
	return nil
}

func (s *PostgresStore) AttachIPSignal(ctx context.Context, id string, sig *models.IPSignal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal ip signal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE risk_evaluations SET ip_signal = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("%w: attach ip signal: %v", ErrPersistenceFailure, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.AuditRecord, int, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risk_evaluations WHERE ($1 = '' OR user_id = $1)
	`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count evaluations: %v", ErrPersistenceFailure, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), event_type, client_hash, device_hash, ip_address,
		       fingerprint_data, geolocation, behavior, ip_signal, result, created_at
		FROM risk_evaluations
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list evaluations: %v", ErrPersistenceFailure, err)
	}
	defer func() { _ = rows.Close() }()

	out := []*models.AuditRecord{}
	for rows.Next() {
		var (
			r                                       models.AuditRecord
			fingerprint, geoRaw, behavior, ipSignal []byte
			result                                  []byte
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.EventType, &r.ClientHash, &r.DeviceHash, &r.IPAddress,
			&fingerprint, &geoRaw, &behavior, &ipSignal, &result, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: scan evaluation: %v", ErrPersistenceFailure, err)
		}
		unmarshalIfSet(fingerprint, &r.FingerprintData)
		unmarshalIfSet(geoRaw, &r.Geolocation)
		unmarshalIfSet(behavior, &r.Behavior)
		unmarshalIfSet(ipSignal, &r.IPSignal)
		unmarshalIfSet(result, &r.Result)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterate evaluations: %v", ErrPersistenceFailure, err)
	}
	return out, total, nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*models.AuditStats, error) {
	st := &models.AuditStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE level IN ('ALTO', 'CRITICO')),
			COUNT(*) FILTER (WHERE blocked),
			COUNT(*) FILTER (WHERE new_device),
			COUNT(*) FILTER (WHERE new_ip),
			COUNT(*) FILTER (WHERE vpn_detected),
			COUNT(*) FILTER (WHERE bot_detected),
			COUNT(*) FILTER (WHERE impossible_travel)
		FROM risk_evaluations
	`, startOfDay(now), now.Add(-7*24*time.Hour)).Scan(
		&st.Total, &st.Today, &st.LastWeek, &st.HighRisk, &st.Blocked,
		&st.NewDevices, &st.NewIPs, &st.VPNs, &st.Bots, &st.ImpossibleTravel,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", ErrPersistenceFailure, err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonOrNull marshals v, or returns nil for a nil pointer or empty map so the
// column stays NULL.
func jsonOrNull(v any) any {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" || string(raw) == "{}" {
		return nil
	}
	return raw
}

func unmarshalIfSet(raw []byte, dst any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
