package rules

import (
	"github.com/gokaycavdar/go-riskguard/pkg/behavior"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// BehaviorRule scores the session's interaction report. A client-side bot
// verdict above the configured probability is a hard override.
type BehaviorRule struct {
	scorer *behavior.Scorer
}

func NewBehaviorRule(s *behavior.Scorer) *BehaviorRule { return &BehaviorRule{scorer: s} }

func (r *BehaviorRule) Name() string   { return "Behavioral Anomaly" }
func (r *BehaviorRule) Factor() Factor { return FactorBehavior }

func (r *BehaviorRule) Description() string {
	return "Compares typing, click and navigation rhythm with the user's norm."
}

func (r *BehaviorRule) Evaluate(ev *Evidence) (Outcome, error) {
	if ev.Behavior == nil {
		return Absent(), nil
	}
	var samples [][]float64
	if ev.HistoryAvailable() {
		samples = ev.History.BehaviorSamples
	}

	a := r.scorer.Score(ev.Behavior, samples)
	var signals []string
	if a.Bot {
		signals = append(signals, models.SignalBot)
	}
	if a.Anomalous {
		signals = append(signals, models.SignalBehaviorAnomaly)
	}
	out := Scored(a.Score, signals...)
	out.Override = a.Bot
	return out, nil
}

// Defaults returns the standard rule set, one rule per factor.
func Defaults(p Params, scorer *behavior.Scorer) []Rule {
	return []Rule{
		NewDeviceRule(p),
		NewIPRule(p),
		NewGeolocationRule(p),
		NewBehaviorRule(scorer),
	}
}
