package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gokaycavdar/go-riskguard/pkg/geo"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	MaxSamples int    `mapstructure:"-"`
	// Retention expires an idle user's history. Zero keeps it forever.
	Retention time.Duration `mapstructure:"retention"`
}

// RedisStore keeps each history dimension in sorted sets scored by
// observation time in milliseconds. First-seen sets are written with LT and
// last-seen sets with GT, so concurrent or repeated writes converge to the
// same min/max regardless of order.
type RedisStore struct {
	Novelty

	client     *redis.Client
	prefix     string
	maxSamples int
	retention  time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "riskguard:history:"
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	s := &RedisStore{
		client:     client,
		prefix:     cfg.KeyPrefix,
		maxSamples: cfg.MaxSamples,
		retention:  cfg.Retention,
	}
	s.Novelty = Novelty{s}
	return s
}

type redisKeys struct {
	devFirst, devLast, ipFirst, ipLast, locFirst, locLast, samples string
}

func (s *RedisStore) keys(userID string) redisKeys {
	base := s.prefix + userID + ":"
	return redisKeys{
		devFirst: base + "dev:first",
		devLast:  base + "dev:last",
		ipFirst:  base + "ip:first",
		ipLast:   base + "ip:last",
		locFirst: base + "loc:first",
		locLast:  base + "loc:last",
		samples:  base + "behavior",
	}
}

func (k redisKeys) all() []string {
	return []string{k.devFirst, k.devLast, k.ipFirst, k.ipLast, k.locFirst, k.locLast, k.samples}
}

// IsKnownDevice checks a single sorted set instead of loading the record.
func (s *RedisStore) IsKnownDevice(ctx context.Context, userID, deviceHash string) (bool, error) {
	return s.member(ctx, s.keys(userID).devFirst, deviceHash)
}

// IsKnownIP checks a single sorted set instead of loading the record.
func (s *RedisStore) IsKnownIP(ctx context.Context, userID, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	return s.member(ctx, s.keys(userID).ipFirst, ip)
}

func (s *RedisStore) member(ctx context.Context, key, m string) (bool, error) {
	err := s.client.ZScore(ctx, key, m).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// RecordObservation writes all dimensions of obs in one MULTI/EXEC.
func (s *RedisStore) RecordObservation(ctx context.Context, obs *models.Observation) error {
	if err := validObservation(obs); err != nil {
		return err
	}
	k := s.keys(obs.UserID)
	score := float64(obs.ObservedAt.UnixMilli())

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		seen := func(first, last, member string) {
			z := redis.Z{Score: score, Member: member}
			p.ZAddArgs(ctx, first, redis.ZAddArgs{LT: true, Members: []redis.Z{z}})
			p.ZAddArgs(ctx, last, redis.ZAddArgs{GT: true, Members: []redis.Z{z}})
		}
		if obs.DeviceHash != "" {
			seen(k.devFirst, k.devLast, obs.DeviceHash)
		}
		if obs.IPAddress != "" {
			seen(k.ipFirst, k.ipLast, obs.IPAddress)
		}
		if obs.Location != nil {
			seen(k.locFirst, k.locLast, geo.BucketKey(geo.Coarse(obs.Location.Latitude), geo.Coarse(obs.Location.Longitude)))
		}
		if len(obs.BehaviorFeatures) > 0 {
			raw, err := json.Marshal(obs.BehaviorFeatures)
			if err != nil {
				return err
			}
			p.RPush(ctx, k.samples, raw)
			p.LTrim(ctx, k.samples, int64(-s.maxSamples), -1)
		}
		if s.retention > 0 {
			for _, key := range k.all() {
				p.Expire(ctx, key, s.retention)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: record observation: %v", ErrUnavailable, err)
	}
	return nil
}

// Snapshot reads every dimension in one MULTI/EXEC so the view is
// consistent with concurrent writers.
func (s *RedisStore) Snapshot(ctx context.Context, userID string) (*models.HistoryRecord, error) {
	k := s.keys(userID)
	var (
		devFirst, devLast, ipFirst, ipLast, locFirst, locLast *redis.ZSliceCmd
		samples                                               *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		devFirst = p.ZRangeWithScores(ctx, k.devFirst, 0, -1)
		devLast = p.ZRangeWithScores(ctx, k.devLast, 0, -1)
		ipFirst = p.ZRangeWithScores(ctx, k.ipFirst, 0, -1)
		ipLast = p.ZRangeWithScores(ctx, k.ipLast, 0, -1)
		locFirst = p.ZRangeWithScores(ctx, k.locFirst, 0, -1)
		locLast = p.ZRangeWithScores(ctx, k.locLast, 0, -1)
		samples = p.LRange(ctx, k.samples, 0, -1)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrUnavailable, err)
	}

	rec := models.NewHistoryRecord(userID)
	rec.Devices = seenEntries(devFirst.Val(), devLast.Val())
	rec.IPs = seenEntries(ipFirst.Val(), ipLast.Val())

	for key, e := range seenEntries(locFirst.Val(), locLast.Val()) {
		lat, lon, ok := parseBucketKey(key)
		if !ok {
			continue
		}
		rec.Locations[key] = models.LocationBucket{Latitude: lat, Longitude: lon, FirstSeen: e.FirstSeen, LastSeen: e.LastSeen}
		if rec.LastLocation == nil || e.LastSeen.After(rec.LastLocation.At) {
			rec.LastLocation = &models.LocationFix{Latitude: lat, Longitude: lon, At: e.LastSeen}
		}
	}

	for _, raw := range samples.Val() {
		var v []float64
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			rec.BehaviorSamples = append(rec.BehaviorSamples, v)
		}
	}
	return rec, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func seenEntries(first, last []redis.Z) map[string]models.SeenEntry {
	out := make(map[string]models.SeenEntry, len(first))
	for _, z := range first {
		m, _ := z.Member.(string)
		e := out[m]
		e.FirstSeen = time.UnixMilli(int64(z.Score)).UTC()
		out[m] = e
	}
	for _, z := range last {
		m, _ := z.Member.(string)
		e := out[m]
		e.LastSeen = time.UnixMilli(int64(z.Score)).UTC()
		if e.FirstSeen.IsZero() {
			e.FirstSeen = e.LastSeen
		}
		out[m] = e
	}
	return out
}

func parseBucketKey(key string) (float64, float64, bool) {
	a, b, ok := strings.Cut(key, ",")
	if !ok {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(a, 64)
	lon, err2 := strconv.ParseFloat(b, 64)
	return lat, lon, err1 == nil && err2 == nil
}

// Blocklist returns a blocklist sharing this store's connection.
func (s *RedisStore) Blocklist() *RedisBlocklist {
	return NewRedisBlocklist(s.client, "")
}

// RedisBlocklist keeps one hash per block kind, field = value and
// value = JSON entry.
type RedisBlocklist struct {
	client *redis.Client
	prefix string
}

// NewRedisBlocklist wraps client. An empty prefix uses
// "riskguard:blocklist:".
func NewRedisBlocklist(client *redis.Client, prefix string) *RedisBlocklist {
	if prefix == "" {
		prefix = "riskguard:blocklist:"
	}
	return &RedisBlocklist{client: client, prefix: prefix}
}

func (b *RedisBlocklist) key(kind BlockKind) string { return b.prefix + string(kind) }

func (b *RedisBlocklist) Block(ctx context.Context, e BlockEntry) error {
	e, err := prepareBlock(e)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.client.HSet(ctx, b.key(e.Kind), e.Value, raw).Err(); err != nil {
		return fmt.Errorf("%w: block: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *RedisBlocklist) Unblock(ctx context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, err
	}
	n, err := b.client.HDel(ctx, b.key(kind), v).Result()
	if err != nil {
		return false, fmt.Errorf("%w: unblock: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (b *RedisBlocklist) IsBlocked(ctx context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, nil
	}
	ok, err := b.client.HExists(ctx, b.key(kind), v).Result()
	if err != nil {
		return false, fmt.Errorf("%w: blocklist lookup: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (b *RedisBlocklist) List(ctx context.Context, kind BlockKind) ([]BlockEntry, error) {
	if _, err := ParseBlockKind(string(kind)); err != nil {
		return nil, err
	}
	all, err := b.client.HGetAll(ctx, b.key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list blocklist: %v", ErrUnavailable, err)
	}
	out := make([]BlockEntry, 0, len(all))
	for _, raw := range all {
		var e BlockEntry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}
