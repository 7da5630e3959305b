// Package behavior scores a session's interaction report against the user's
// historical norms, or against population norms while the user has too little
// history.
package behavior

import (
	"math"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Feature indexes into the vector produced by Features.
const (
	FeatureTypingMean = iota
	FeatureTypingStdDev
	FeatureActionGap
	FeatureClickStdDev
	FeatureActionsPerMinute
	FeatureMouseVelocity
	featureCount
)

var featureNames = [featureCount]string{
	"typing_mean_ms",
	"typing_stddev_ms",
	"action_gap_ms",
	"click_stddev_ms",
	"actions_per_minute",
	"mouse_velocity",
}

// FeatureName returns a printable name for a feature index.
func FeatureName(i int) string {
	if i < 0 || i >= featureCount {
		return "unknown"
	}
	return featureNames[i]
}

// Features extracts the numeric vector compared against norms. A zero entry
// means the client did not measure that feature.
func Features(r *models.BehaviorReport) []float64 {
	v := make([]float64, featureCount)
	if r == nil {
		return v
	}
	v[FeatureTypingMean] = r.TypingIntervalMean
	v[FeatureTypingStdDev] = r.TypingIntervalStdDev
	if len(r.ActionGapsMs) > 0 {
		var sum float64
		for _, g := range r.ActionGapsMs {
			sum += g
		}
		v[FeatureActionGap] = sum / float64(len(r.ActionGapsMs))
	}
	v[FeatureClickStdDev] = r.Clicks.IntervalStdDev
	if r.TotalEvents > 0 && r.SessionSeconds > 0 {
		v[FeatureActionsPerMinute] = float64(r.TotalEvents) / (r.SessionSeconds / 60)
	}
	v[FeatureMouseVelocity] = r.MouseVelocityMean
	return v
}

// Norms holds a per-feature mean and standard deviation.
type Norms struct {
	Mean   []float64 `mapstructure:"mean"`
	StdDev []float64 `mapstructure:"stddev"`
}

// PopulationNorms are the defaults used while a user has no profile. They
// describe an ordinary human session on a desktop browser.
func PopulationNorms() Norms {
	return Norms{
		Mean:   []float64{180, 70, 900, 400, 30, 5},
		StdDev: []float64{80, 40, 700, 300, 25, 5},
	}
}

// Profile builds per-user norms from stored feature vectors. It returns false
// when fewer than minSamples vectors exist.
func Profile(samples [][]float64, minSamples int) (Norms, bool) {
	if len(samples) < minSamples || len(samples) == 0 {
		return Norms{}, false
	}

	n := Norms{Mean: make([]float64, featureCount), StdDev: make([]float64, featureCount)}
	for f := 0; f < featureCount; f++ {
		var sum, count float64
		for _, s := range samples {
			if f < len(s) && s[f] > 0 {
				sum += s[f]
				count++
			}
		}
		if count == 0 {
			continue
		}
		mean := sum / count

		var sq float64
		for _, s := range samples {
			if f < len(s) && s[f] > 0 {
				sq += (s[f] - mean) * (s[f] - mean)
			}
		}
		n.Mean[f] = mean
		n.StdDev[f] = math.Sqrt(sq / count)
	}
	return n, true
}

// MeanAbsZ returns the mean absolute z-score of v against norms over the
// features both sides measured, and how many features took part.
func MeanAbsZ(v []float64, n Norms) (float64, int) {
	var total float64
	var used int
	for f := 0; f < featureCount && f < len(v); f++ {
		if v[f] <= 0 || f >= len(n.Mean) || n.Mean[f] <= 0 {
			continue
		}
		sd := 0.0
		if f < len(n.StdDev) {
			sd = n.StdDev[f]
		}
		// Floor the spread so a very consistent user does not turn tiny
		// variations into huge z-scores.
		sd = math.Max(sd, math.Max(n.Mean[f]*0.1, 1))
		total += math.Abs(v[f]-n.Mean[f]) / sd
		used++
	}
	if used == 0 {
		return 0, 0
	}
	return total / float64(used), used
}
