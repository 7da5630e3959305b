package engine

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/metrics"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
	"github.com/gokaycavdar/go-riskguard/pkg/rules"
)

// Thresholds map the blended score onto levels.
type Thresholds struct {
	LowBand    float64 `mapstructure:"low_band"`
	Risk       float64 `mapstructure:"risk_threshold"`
	Confidence float64 `mapstructure:"confidence_threshold"`
	// MaxAnomalies distinct signals escalate the level one tier.
	MaxAnomalies int `mapstructure:"max_anomalies"`
}

// Weights are the relative contribution of each factor to the blend.
type Weights map[rules.Factor]float64

// Config configures the engine.
type Config struct {
	Thresholds Thresholds
	Weights    Weights
	// NeutralScore stands in for a factor whose rule failed.
	NeutralScore float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{LowBand: 25, Risk: 50, Confidence: 80, MaxAnomalies: 3},
		Weights: Weights{
			rules.FactorDevice:      25,
			rules.FactorIP:          30,
			rules.FactorGeolocation: 25,
			rules.FactorBehavior:    20,
		},
		NeutralScore: 50,
	}
}

// Engine folds rule outcomes into a decision.
//
// Architecture:
//   - Engine is rule-agnostic: rules only report a sub-score, signals and
//     whether they force a block
//   - Rules are pure over Evidence; the engine takes no I/O
//   - Explainable: every factor's sub-score is returned with the decision
//
// Usage:
//
//	eng := engine.New(cfg, logger)
//	eng.AddRule(rules.NewDeviceRule(params))
//	result := eng.Analyze(evidence)
type Engine struct {
	cfg    Config
	rules  []rules.Rule
	logger zerolog.Logger
}

// New creates an engine with no rules.
func New(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Weights == nil {
		cfg.Weights = def.Weights
	}
	if cfg.Thresholds.Risk <= 0 {
		cfg.Thresholds.Risk = def.Thresholds.Risk
	}
	if cfg.Thresholds.Confidence <= 0 {
		cfg.Thresholds.Confidence = def.Thresholds.Confidence
	}
	if cfg.Thresholds.LowBand <= 0 {
		cfg.Thresholds.LowBand = def.Thresholds.LowBand
	}
	if cfg.NeutralScore <= 0 {
		cfg.NeutralScore = def.NeutralScore
	}
	if cfg.Thresholds.MaxAnomalies <= 0 {
		cfg.Thresholds.MaxAnomalies = def.Thresholds.MaxAnomalies
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// AddRule appends a rule. Rules run in the order they are added.
func (e *Engine) AddRule(r rules.Rule) {
	e.rules = append(e.rules, r)
}

// Rules returns the registered rules.
func (e *Engine) Rules() []rules.Rule { return e.rules }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Analyze evaluates ev. It never fails: a rule that errors contributes the
// neutral score for its factor and the failure is logged and counted.
func (e *Engine) Analyze(ev *rules.Evidence) *models.RiskResult {
	sub := make(map[rules.Factor]float64)
	raised := make(map[string]bool)
	override := false

	for _, rule := range e.rules {
		out, err := rule.Evaluate(ev)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule", rule.Name()).Str("user_id", ev.UserID).
				Msg("rule failed, using neutral score")
			metrics.RuleErrorsTotal.WithLabelValues(rule.Name()).Inc()
			out = rules.Scored(e.cfg.NeutralScore)
		}

		if v, ok := out.Value(); ok {
			// Several rules on one factor: the worst one wins.
			if prev, seen := sub[rule.Factor()]; !seen || v > prev {
				sub[rule.Factor()] = v
			}
		}
		for _, s := range out.Signals {
			raised[s] = true
		}
		override = override || out.Override
	}

	score := e.blend(sub)
	signals := ordered(raised)
	level := e.level(score)

	if len(signals) >= e.cfg.Thresholds.MaxAnomalies && score < e.cfg.Thresholds.Confidence {
		level = level.Raise(1)
	}
	// A first-ever login raises novelty signals by construction; alone they
	// must not block.
	if ev.ColdStart() && !override && onlyNovelty(signals) && level.Rank() > models.LevelHigh.Rank() {
		level = models.LevelHigh
	}
	if override {
		level = models.LevelCritical
	}

	result := &models.RiskResult{
		ID:                uuid.NewString(),
		Score:             score,
		Level:             level,
		Blocked:           level == models.LevelCritical,
		Action:            models.ActionFor(level),
		Signals:           signals,
		Evaluated:         true,
		ColdStart:         ev.ColdStart(),
		IPSignalAvailable: ev.IPSignal != nil,
		SubScores:         subScores(sub),
		EvaluatedAt:       ev.Now,
	}
	result.NewDevice = result.HasSignal(models.SignalNewDevice)
	result.NewIP = result.HasSignal(models.SignalNewIP)
	result.NewLocation = result.HasSignal(models.SignalNewLocation)
	result.ImpossibleTravel = result.HasSignal(models.SignalImpossibleTrip)
	result.VPNDetected = result.HasSignal(models.SignalVPN)
	result.BotDetected = result.HasSignal(models.SignalBot)
	result.DeviceBlocked = result.HasSignal(models.SignalDeviceBlocked)
	result.IPBlocked = result.HasSignal(models.SignalIPBlocked)
	if sig := ev.IPSignal; sig != nil {
		result.ProxyDetected = sig.ProxyDetected || sig.TorDetected
		result.DatacenterDetected = sig.DatacenterDetected
	}

	e.observe(result)
	e.logger.Debug().
		Str("user_id", ev.UserID).
		Float64("score", result.Score).
		Str("level", string(result.Level)).
		Strs("signals", result.Signals).
		Bool("override", override).
		Msg("evaluation complete")
	return result
}

// blend is the weighted mean over factors that produced a score. Absent
// factors leave both numerator and denominator.
func (e *Engine) blend(sub map[rules.Factor]float64) float64 {
	var num, den float64
	for f, v := range sub {
		w := e.cfg.Weights[f]
		num += w * v
		den += w
	}
	if den == 0 {
		return 0
	}
	return math.Round(num/den*100) / 100
}

func (e *Engine) level(score float64) models.Level {
	t := e.cfg.Thresholds
	switch {
	case score < t.LowBand:
		return models.LevelLow
	case score < t.Risk:
		return models.LevelMedium
	case score < t.Confidence:
		return models.LevelHigh
	default:
		return models.LevelCritical
	}
}

func (e *Engine) observe(r *models.RiskResult) {
	metrics.EvaluationsTotal.WithLabelValues(string(r.Level), "true").Inc()
	metrics.RiskScore.Observe(r.Score)
	for _, s := range r.Signals {
		metrics.SignalsTotal.WithLabelValues(s).Inc()
	}
}

func ordered(raised map[string]bool) []string {
	out := make([]string, 0, len(raised))
	for _, s := range models.SignalOrder {
		if raised[s] {
			out = append(out, s)
			delete(raised, s)
		}
	}
	// Signals from custom rules go last, sorted for stable output.
	var extra []string
	for s := range raised {
		extra = append(extra, s)
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func onlyNovelty(signals []string) bool {
	for _, s := range signals {
		if !models.NoveltySignals[s] {
			return false
		}
	}
	return true
}

func subScores(sub map[rules.Factor]float64) models.SubScores {
	get := func(f rules.Factor) *float64 {
		if v, ok := sub[f]; ok {
			return &v
		}
		return nil
	}
	return models.SubScores{
		Device:      get(rules.FactorDevice),
		IP:          get(rules.FactorIP),
		Geolocation: get(rules.FactorGeolocation),
		Behavior:    get(rules.FactorBehavior),
	}
}
