package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/behavior"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

var now = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

func historyAt(lat, lon float64, at time.Time) *models.HistoryRecord {
	h := models.NewHistoryRecord("u")
	h.Merge(&models.Observation{UserID: "u", DeviceHash: "d", IPAddress: "1.1.1.1",
		Location: &models.Geolocation{Latitude: lat, Longitude: lon}, ObservedAt: at}, 10)
	return h
}

func value(t *testing.T, o Outcome) float64 {
	t.Helper()
	v, ok := o.Value()
	require.True(t, ok, "expected a scored outcome")
	return v
}

func TestScoredClamps(t *testing.T) {
	v, _ := Scored(140).Value()
	assert.Equal(t, 100.0, v)
	v, _ = Scored(-3).Value()
	assert.Equal(t, 0.0, v)
	_, ok := Absent().Value()
	assert.False(t, ok)
}

func TestDeviceRule(t *testing.T) {
	r := NewDeviceRule(DefaultParams())

	out, err := r.Evaluate(&Evidence{DeviceHash: "d", History: historyAt(0, 0, now)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, value(t, out))
	assert.Empty(t, out.Signals)

	out, _ = r.Evaluate(&Evidence{DeviceHash: "other", History: historyAt(0, 0, now)})
	assert.Equal(t, 60.0, value(t, out))
	assert.Equal(t, []string{models.SignalNewDevice}, out.Signals)

	out, _ = r.Evaluate(&Evidence{DeviceHash: "other", History: models.NewHistoryRecord("u")})
	assert.Equal(t, 30.0, value(t, out), "cold start discount")

	out, _ = r.Evaluate(&Evidence{DeviceHash: "d", HistoryErr: errors.New("down")})
	assert.Equal(t, 50.0, value(t, out))
	assert.Empty(t, out.Signals)
}

func TestIPRule(t *testing.T) {
	r := NewIPRule(DefaultParams())
	h := historyAt(0, 0, now)

	out, _ := r.Evaluate(&Evidence{IPAddress: "1.1.1.1", History: h})
	assert.Equal(t, 50.0, value(t, out), "missing signal is neutral, not clean")

	out, _ = r.Evaluate(&Evidence{IPAddress: "1.1.1.1", IPSignal: &models.IPSignal{}, History: h})
	assert.Equal(t, 0.0, value(t, out))

	out, _ = r.Evaluate(&Evidence{IPAddress: "1.1.1.1", IPSignal: &models.IPSignal{ProxyDetected: true, ReputationScore: 80}, History: h})
	assert.Equal(t, 64.0, value(t, out))
	assert.Equal(t, []string{models.SignalVPN, models.SignalBadReputation}, out.Signals)
	assert.False(t, out.Override)

	out, _ = r.Evaluate(&Evidence{IPAddress: "9.9.9.9", IPSignal: &models.IPSignal{BotDetected: true}, History: h})
	assert.Equal(t, 30.0, value(t, out))
	assert.Equal(t, []string{models.SignalBot, models.SignalNewIP}, out.Signals)
	assert.True(t, out.Override)

	out, _ = r.Evaluate(&Evidence{IPAddress: "9.9.9.9", IPSignal: &models.IPSignal{}, HistoryErr: errors.New("down")})
	assert.Equal(t, 50.0, value(t, out))
}

func TestBlocklistOverrides(t *testing.T) {
	h := historyAt(0, 0, now)

	out, err := NewDeviceRule(DefaultParams()).Evaluate(&Evidence{DeviceHash: "d", History: h, DeviceBlocked: true})
	require.NoError(t, err)
	assert.Equal(t, 100.0, value(t, out))
	assert.Equal(t, []string{models.SignalDeviceBlocked}, out.Signals)
	assert.True(t, out.Override)

	out, err = NewIPRule(DefaultParams()).Evaluate(&Evidence{IPAddress: "1.1.1.1", IPSignal: &models.IPSignal{}, History: h, IPBlocked: true})
	require.NoError(t, err)
	assert.Equal(t, 100.0, value(t, out))
	assert.Equal(t, []string{models.SignalIPBlocked}, out.Signals)
	assert.True(t, out.Override)

	// A blocked address is refused even while its reputation is unresolved.
	out, _ = NewIPRule(DefaultParams()).Evaluate(&Evidence{IPAddress: "1.1.1.1", HistoryErr: errors.New("down"), IPBlocked: true})
	assert.Equal(t, 100.0, value(t, out))
	assert.True(t, out.Override)
}

func TestGeolocationRule(t *testing.T) {
	r := NewGeolocationRule(DefaultParams())
	sp := historyAt(-23.55, -46.63, now.Add(-3*time.Hour))

	out, err := r.Evaluate(&Evidence{History: sp, Now: now})
	require.NoError(t, err)
	_, ok := out.Value()
	assert.False(t, ok, "no GPS fix is absent, not zero")

	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: -23.56, Longitude: -46.64}, History: sp, Now: now})
	assert.Equal(t, 0.0, value(t, out))

	// Rio is ~360 km away: new, reachable and near.
	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: -22.9068, Longitude: -43.1729}, History: sp, Now: now})
	assert.Equal(t, 20.0, value(t, out))
	assert.Equal(t, []string{models.SignalNewLocation}, out.Signals)

	// Recife is ~2100 km away: far, but reachable in three hours by plane.
	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: -8.0476, Longitude: -34.8770}, History: sp, Now: now})
	assert.Equal(t, 40.0, value(t, out))

	// Lisbon is ~7900 km away: impossible in three hours.
	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: 38.7223, Longitude: -9.1393}, History: sp, Now: now})
	assert.Equal(t, 100.0, value(t, out))
	assert.Equal(t, []string{models.SignalNewLocation, models.SignalImpossibleTrip}, out.Signals)

	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: 1, Longitude: 1}, HistoryErr: errors.New("down"), Now: now})
	assert.Equal(t, 50.0, value(t, out))

	_, err = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: 120, Longitude: 1}, History: sp, Now: now})
	assert.Error(t, err)
}

func TestGeolocationRule_SimultaneousLogins(t *testing.T) {
	r := NewGeolocationRule(DefaultParams())
	h := historyAt(-23.55, -46.63, now)

	// Same instant, 20 km apart.
	out, _ := r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: -23.55, Longitude: -46.43}, History: h, Now: now})
	assert.Equal(t, 100.0, value(t, out))

	// Same instant, same place.
	out, _ = r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: -23.55, Longitude: -46.63}, History: h, Now: now})
	assert.Equal(t, 0.0, value(t, out))
}

func TestGeolocationRule_ColdStart(t *testing.T) {
	r := NewGeolocationRule(DefaultParams())
	out, _ := r.Evaluate(&Evidence{Geolocation: &models.Geolocation{Latitude: 1, Longitude: 1}, History: models.NewHistoryRecord("u"), Now: now})
	assert.Equal(t, 20.0, value(t, out))
	assert.Equal(t, []string{models.SignalNewLocation}, out.Signals)
}

func TestBehaviorRule(t *testing.T) {
	r := NewBehaviorRule(behavior.NewScorer(behavior.DefaultConfig()))

	out, _ := r.Evaluate(&Evidence{})
	_, ok := out.Value()
	assert.False(t, ok)

	out, _ = r.Evaluate(&Evidence{Behavior: &models.BehaviorReport{BotProbability: 0.8}, History: models.NewHistoryRecord("u")})
	assert.True(t, out.Override)
	assert.Contains(t, out.Signals, models.SignalBot)
}

func TestDefaultsCoverEveryFactor(t *testing.T) {
	seen := map[Factor]bool{}
	for _, r := range Defaults(DefaultParams(), behavior.NewScorer(behavior.Config{})) {
		seen[r.Factor()] = true
		assert.NotEmpty(t, r.Name())
		assert.NotEmpty(t, r.Description())
	}
	assert.Len(t, seen, 4)
}
