package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// stores returns every backend available in this environment. Redis is only
// exercised when REDIS_ADDR points at a server.
func stores(t *testing.T) map[string]HistoryStore {
	t.Helper()
	out := map[string]HistoryStore{"memory": NewMemoryStore(5)}

	bunt, err := NewBuntStore(":memory:", 5, zerolog.Nop())
	require.NoError(t, err)
	out["buntdb"] = bunt

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rs, err := NewRedisStore(context.Background(), RedisConfig{
			Addr:       addr,
			KeyPrefix:  fmt.Sprintf("riskguard-test-%d:", time.Now().UnixNano()),
			MaxSamples: 5,
			Retention:  time.Minute,
		})
		require.NoError(t, err)
		out["redis"] = rs
	}

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func sampleObservation(at time.Time) *models.Observation {
	return &models.Observation{
		UserID:           "user-1",
		DeviceHash:       "device-a",
		IPAddress:        "200.100.50.25",
		Location:         &models.Geolocation{Latitude: -23.5505, Longitude: -46.6333},
		BehaviorFeatures: []float64{180, 70, 900, 400, 30, 5},
		ObservedAt:       at,
	}
}

func TestHistoryStore_EmptyUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h, err := s.Snapshot(ctx, "nobody")
			require.NoError(t, err)
			assert.True(t, h.Empty())

			known, err := s.IsKnownDevice(ctx, "nobody", "device-a")
			require.NoError(t, err)
			assert.False(t, known)
		})
	}
}

func TestHistoryStore_RecordThenKnown(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.RecordObservation(ctx, sampleObservation(at)))

			dev, err := s.IsKnownDevice(ctx, "user-1", "device-a")
			require.NoError(t, err)
			assert.True(t, dev)

			ip, err := s.IsKnownIP(ctx, "user-1", "200.100.50.25")
			require.NoError(t, err)
			assert.True(t, ip)

			near, err := s.IsKnownLocation(ctx, "user-1", -23.56, -46.64, 50_000)
			require.NoError(t, err)
			assert.True(t, near)

			far, err := s.IsKnownLocation(ctx, "user-1", 48.8566, 2.3522, 50_000)
			require.NoError(t, err)
			assert.False(t, far)

			other, err := s.IsKnownDevice(ctx, "user-2", "device-a")
			require.NoError(t, err)
			assert.False(t, other, "history is per user")

			h, err := s.Snapshot(ctx, "user-1")
			require.NoError(t, err)
			require.NotNil(t, h.LastLocation)
			assert.Equal(t, at, h.LastLocation.At.UTC())
			assert.Len(t, h.BehaviorSamples, 1)
		})
	}
}

func TestHistoryStore_IdempotentNovelty(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.RecordObservation(ctx, sampleObservation(at)))
			first, err := s.Snapshot(ctx, "user-1")
			require.NoError(t, err)

			require.NoError(t, s.RecordObservation(ctx, sampleObservation(at)))
			second, err := s.Snapshot(ctx, "user-1")
			require.NoError(t, err)

			assert.Equal(t, first.Devices, second.Devices)
			assert.Equal(t, first.IPs, second.IPs)
			assert.Equal(t, len(first.Locations), len(second.Locations))
		})
	}
}

func TestHistoryStore_SeenWindowIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, d := range []time.Duration{time.Hour, -time.Hour, 0} {
				require.NoError(t, s.RecordObservation(ctx, &models.Observation{
					UserID: "user-w", DeviceHash: "d", ObservedAt: t0.Add(d),
				}))
			}
			h, err := s.Snapshot(ctx, "user-w")
			require.NoError(t, err)
			e := h.Devices["d"]
			assert.True(t, e.FirstSeen.Equal(t0.Add(-time.Hour)))
			assert.True(t, e.LastSeen.Equal(t0.Add(time.Hour)))
		})
	}
}

func TestHistoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.RecordObservation(ctx, &models.Observation{
						UserID:     "user-c",
						DeviceHash: fmt.Sprintf("device-%d", i),
						IPAddress:  fmt.Sprintf("10.0.0.%d", i),
						ObservedAt: time.Now(),
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			h, err := s.Snapshot(ctx, "user-c")
			require.NoError(t, err)
			assert.Len(t, h.Devices, 20)
			assert.Len(t, h.IPs, 20)
		})
	}
}

func TestHistoryStore_RejectsAnonymousObservation(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.RecordObservation(ctx, &models.Observation{DeviceHash: "d"}))
			assert.Error(t, s.RecordObservation(ctx, nil))
		})
	}
}

func TestMemoryStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.RecordObservation(ctx, sampleObservation(time.Now())))

	h, err := s.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	h.Devices["injected"] = models.SeenEntry{}

	known, err := s.IsKnownDevice(ctx, "user-1", "injected")
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, 1, s.Len())
}

func TestBuntStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/history.db"

	s, err := NewBuntStore(path, 5, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.RecordObservation(ctx, sampleObservation(time.Now())))
	require.NoError(t, s.Close())

	reopened, err := NewBuntStore(path, 5, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	known, err := reopened.IsKnownDevice(ctx, "user-1", "device-a")
	require.NoError(t, err)
	assert.True(t, known)
}
