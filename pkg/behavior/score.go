package behavior

import (
	"math"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Config tunes behavioral scoring.
type Config struct {
	MinSamples              int     `mapstructure:"min_samples"`
	MaxSamples              int     `mapstructure:"max_samples"`
	MaxZScore               float64 `mapstructure:"max_z_score"`
	AnomalyThreshold        float64 `mapstructure:"anomaly_threshold"`
	RegularityPenalty       float64 `mapstructure:"regularity_penalty"`
	FastActionPenalty       float64 `mapstructure:"fast_action_penalty"`
	NonHumanPenalty         float64 `mapstructure:"non_human_penalty"`
	BotProbabilityThreshold float64 `mapstructure:"bot_probability_threshold"`
	Population              Norms   `mapstructure:"population"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinSamples:              3,
		MaxSamples:              50,
		MaxZScore:               3,
		AnomalyThreshold:        60,
		RegularityPenalty:       15,
		FastActionPenalty:       15,
		NonHumanPenalty:         20,
		BotProbabilityThreshold: 0.7,
		Population:              PopulationNorms(),
	}
}

// Assessment is the outcome of scoring one report.
type Assessment struct {
	Score     float64
	Deviation float64
	Features  int
	Baseline  string // "user" or "population"
	Anomalous bool
	Bot       bool
}

// Scorer compares reports against a per-user profile or population norms.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer, filling unset fields from DefaultConfig.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.MaxZScore <= 0 {
		cfg.MaxZScore = def.MaxZScore
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.BotProbabilityThreshold <= 0 {
		cfg.BotProbabilityThreshold = def.BotProbabilityThreshold
	}
	if len(cfg.Population.Mean) != featureCount || len(cfg.Population.StdDev) != featureCount {
		cfg.Population = def.Population
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Score rates r against the user's stored samples. With fewer than
// MinSamples samples the population norms are used instead.
func (s *Scorer) Score(r *models.BehaviorReport, samples [][]float64) Assessment {
	norms, baseline := s.cfg.Population, "population"
	if p, ok := Profile(samples, s.cfg.MinSamples); ok {
		norms, baseline = p, "user"
	}

	z, used := MeanAbsZ(Features(r), norms)
	a := Assessment{Deviation: z, Features: used, Baseline: baseline}
	a.Score = math.Min(z/s.cfg.MaxZScore, 1) * 100

	if r.ExcessiveRegularity {
		a.Score += s.cfg.RegularityPenalty
	}
	if r.TooFastActions {
		a.Score += s.cfg.FastActionPenalty
	}
	if r.HumanPattern != nil && !*r.HumanPattern {
		a.Score += s.cfg.NonHumanPenalty
	}
	a.Score = math.Min(a.Score, 100)

	a.Anomalous = a.Score >= s.cfg.AnomalyThreshold
	a.Bot = r.BotProbability >= s.cfg.BotProbabilityThreshold
	return a
}
