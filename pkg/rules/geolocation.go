package rules

import (
	"fmt"

	"github.com/gokaycavdar/go-riskguard/pkg/geo"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// GeolocationRule checks the browser GPS fix against known locations and
// the speed needed to get here from the last one (impossible travel).
type GeolocationRule struct {
	Params Params
}

func NewGeolocationRule(p Params) *GeolocationRule { return &GeolocationRule{Params: p} }

func (r *GeolocationRule) Name() string   { return "Location & Impossible Travel" }
func (r *GeolocationRule) Factor() Factor { return FactorGeolocation }

func (r *GeolocationRule) Description() string {
	return fmt.Sprintf("Flags new locations and travel faster than %.0f km/h since the last login.", r.Params.MaxTravelSpeedKmh)
}

func (r *GeolocationRule) Evaluate(ev *Evidence) (Outcome, error) {
	g := ev.Geolocation
	if g == nil {
		return Absent(), nil
	}
	if !g.Valid() {
		return Absent(), fmt.Errorf("coordinates out of range: %f,%f", g.Latitude, g.Longitude)
	}
	if !ev.HistoryAvailable() {
		return Scored(r.Params.NeutralScore), nil
	}

	p := r.Params
	known := ev.History.KnowsLocation(g.Latitude, g.Longitude, p.LocationToleranceMeters)

	var signals []string
	if !known {
		signals = append(signals, models.SignalNewLocation)
	}

	last := ev.History.LastLocation
	var distance float64
	if last != nil {
		distance = geo.HaversineKm(g.Latitude, g.Longitude, last.Latitude, last.Longitude)
		if r.impossible(distance, ev.Now.Sub(last.At).Hours()) {
			return Scored(100, append(signals, models.SignalImpossibleTrip)...), nil
		}
	}

	if known {
		return Scored(0), nil
	}

	v := p.NewLocationPenalty
	if last != nil && distance < p.FarDistanceKm {
		v /= 2
	}
	return Scored(p.novelty(ev, v), signals...), nil
}

// impossible reports travel no commercial flight could make. Simultaneous
// logins only count when the places are clearly apart.
func (r *GeolocationRule) impossible(distanceKm, hours float64) bool {
	if hours <= 0 {
		return distanceKm > r.Params.MinTravelDistanceKm
	}
	return distanceKm/hours > r.Params.MaxTravelSpeedKmh
}
