package rules

import (
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Factor identifies which weighted sub-score a rule feeds.
type Factor string

const (
	FactorDevice      Factor = "dispositivo"
	FactorIP          Factor = "ip"
	FactorGeolocation Factor = "geolocalizacao"
	FactorBehavior    Factor = "comportamento"
)

// Evidence is everything known about one evaluation. History is a single
// snapshot taken before any rule runs, so every rule sees the same view.
type Evidence struct {
	UserID      string
	DeviceHash  string
	IPAddress   string
	IPSignal    *models.IPSignal // nil while unresolved
	Geolocation *models.Geolocation
	Behavior    *models.BehaviorReport
	EventType   string
	History     *models.HistoryRecord
	HistoryErr  error // set when the snapshot could not be read
	Now         time.Time

	// DeviceBlocked and IPBlocked are blocklist verdicts looked up before
	// the rules run.
	DeviceBlocked bool
	IPBlocked     bool
}

// HistoryAvailable reports whether the snapshot was read successfully.
func (e *Evidence) HistoryAvailable() bool {
	return e.HistoryErr == nil && e.History != nil
}

// ColdStart reports a user with readable but empty history.
func (e *Evidence) ColdStart() bool {
	return e.HistoryAvailable() && e.History.Empty()
}

// Outcome is a rule's verdict: a sub-score or Absent, the alert signals it
// raised, and whether it forces a block regardless of the blended score.
type Outcome struct {
	value    float64
	scored   bool
	Signals  []string
	Override bool
}

// Scored wraps a sub-score in [0,100].
func Scored(v float64, signals ...string) Outcome {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return Outcome{value: v, scored: true, Signals: signals}
}

// Absent marks a factor with no evidence. It is left out of the blend.
func Absent() Outcome { return Outcome{} }

// Value returns the sub-score and whether one exists.
func (o Outcome) Value() (float64, bool) { return o.value, o.scored }

// Rule is one sub-score analyzer. Rules are pure over Evidence.
type Rule interface {
	Name() string
	Description() string
	Factor() Factor
	Evaluate(ev *Evidence) (Outcome, error)
}

// Params are the tunable penalties shared by the default rules.
type Params struct {
	NeutralScore            float64 `mapstructure:"neutral_score"`
	ColdStartDiscount       float64 `mapstructure:"cold_start_discount"`
	NewDevicePenalty        float64 `mapstructure:"new_device_penalty"`
	NewIPPenalty            float64 `mapstructure:"new_ip_penalty"`
	VPNPenalty              float64 `mapstructure:"vpn_penalty"`
	ReputationFactor        float64 `mapstructure:"reputation_factor"`
	BadReputationThreshold  float64 `mapstructure:"bad_reputation_threshold"`
	NewLocationPenalty      float64 `mapstructure:"new_location_penalty"`
	LocationToleranceMeters float64 `mapstructure:"location_tolerance_meters"`
	MaxTravelSpeedKmh       float64 `mapstructure:"max_travel_speed_kmh"`
	MinTravelDistanceKm     float64 `mapstructure:"min_travel_distance_km"`
	FarDistanceKm           float64 `mapstructure:"far_distance_km"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		NeutralScore:            50,
		ColdStartDiscount:       0.5,
		NewDevicePenalty:        60,
		NewIPPenalty:            30,
		VPNPenalty:              40,
		ReputationFactor:        0.3,
		BadReputationThreshold:  70,
		NewLocationPenalty:      40,
		LocationToleranceMeters: 50_000,
		MaxTravelSpeedKmh:       1000,
		MinTravelDistanceKm:     10,
		FarDistanceKm:           500,
	}
}

// novelty applies the cold start discount to a first-seen penalty.
func (p Params) novelty(ev *Evidence, penalty float64) float64 {
	if ev.ColdStart() {
		return penalty * p.ColdStartDiscount
	}
	return penalty
}
