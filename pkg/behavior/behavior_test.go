package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

func humanReport() *models.BehaviorReport {
	human := true
	return &models.BehaviorReport{
		TypingIntervalMean:   180,
		TypingIntervalStdDev: 70,
		MouseVelocityMean:    5,
		Clicks:               models.ClickPattern{Total: 4, IntervalMean: 900, IntervalStdDev: 400},
		ActionGapsMs:         []float64{800, 1000, 900},
		TotalEvents:          30,
		SessionSeconds:       60,
		HumanPattern:         &human,
		BotProbability:       0.05,
	}
}

func TestFeatures(t *testing.T) {
	v := Features(humanReport())
	require.Len(t, v, featureCount)
	assert.Equal(t, 180.0, v[FeatureTypingMean])
	assert.InDelta(t, 900.0, v[FeatureActionGap], 0.001)
	assert.InDelta(t, 30.0, v[FeatureActionsPerMinute], 0.001)
	assert.Equal(t, "mouse_velocity", FeatureName(FeatureMouseVelocity))
	assert.Equal(t, "unknown", FeatureName(99))

	assert.Equal(t, make([]float64, featureCount), Features(nil))
}

func TestProfile_NeedsMinSamples(t *testing.T) {
	_, ok := Profile([][]float64{{1, 2, 3, 4, 5, 6}}, 3)
	assert.False(t, ok)

	p, ok := Profile([][]float64{
		{100, 10, 500, 100, 20, 2},
		{120, 10, 500, 100, 20, 2},
		{140, 10, 500, 100, 20, 2},
	}, 3)
	require.True(t, ok)
	assert.InDelta(t, 120.0, p.Mean[FeatureTypingMean], 0.001)
	assert.InDelta(t, 16.33, p.StdDev[FeatureTypingMean], 0.01)
}

func TestMeanAbsZ_SkipsUnmeasured(t *testing.T) {
	n := PopulationNorms()
	v := make([]float64, featureCount)
	z, used := MeanAbsZ(v, n)
	assert.Zero(t, z)
	assert.Zero(t, used)

	v[FeatureTypingMean] = 340 // two population deviations out
	z, used = MeanAbsZ(v, n)
	assert.Equal(t, 1, used)
	assert.InDelta(t, 2.0, z, 0.001)
}

func TestScore_HumanAgainstPopulation(t *testing.T) {
	s := NewScorer(Config{})
	a := s.Score(humanReport(), nil)
	assert.Equal(t, "population", a.Baseline)
	assert.Less(t, a.Score, 10.0)
	assert.False(t, a.Anomalous)
	assert.False(t, a.Bot)
}

func TestScore_BotLikeSession(t *testing.T) {
	s := NewScorer(DefaultConfig())
	notHuman := false
	r := &models.BehaviorReport{
		TypingIntervalMean:   12,
		TypingIntervalStdDev: 1,
		Clicks:               models.ClickPattern{IntervalStdDev: 2},
		ActionGapsMs:         []float64{20, 20, 20},
		TotalEvents:          600,
		SessionSeconds:       30,
		ExcessiveRegularity:  true,
		TooFastActions:       true,
		HumanPattern:         &notHuman,
		BotProbability:       0.92,
	}
	a := s.Score(r, nil)
	assert.True(t, a.Anomalous)
	assert.True(t, a.Bot)
	assert.LessOrEqual(t, a.Score, 100.0)
}

func TestScore_UsesUserProfile(t *testing.T) {
	s := NewScorer(DefaultConfig())
	// A slow typist is unusual for the population but normal for this user.
	samples := [][]float64{
		{400, 60, 2000, 300, 10, 3},
		{420, 60, 2100, 300, 10, 3},
		{410, 60, 1900, 300, 10, 3},
	}
	r := &models.BehaviorReport{
		TypingIntervalMean:   410,
		TypingIntervalStdDev: 60,
		ActionGapsMs:         []float64{2000},
		Clicks:               models.ClickPattern{IntervalStdDev: 300},
		TotalEvents:          10,
		SessionSeconds:       60,
		MouseVelocityMean:    3,
	}
	withHistory := s.Score(r, samples)
	withoutHistory := s.Score(r, nil)

	assert.Equal(t, "user", withHistory.Baseline)
	assert.Less(t, withHistory.Score, withoutHistory.Score)
	assert.False(t, withHistory.Anomalous)
}

func TestScore_BotProbabilityThreshold(t *testing.T) {
	s := NewScorer(DefaultConfig())
	r := humanReport()
	r.BotProbability = 0.7
	assert.True(t, s.Score(r, nil).Bot)
	r.BotProbability = 0.69
	assert.False(t, s.Score(r, nil).Bot)
}
