package rules

import (
	"math"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// IPRule combines the IP reputation signal with IP novelty. A bot verdict
// from the reputation source and a blocklisted address are hard overrides.
type IPRule struct {
	Params Params
}

func NewIPRule(p Params) *IPRule { return &IPRule{Params: p} }

func (r *IPRule) Name() string   { return "IP Reputation" }
func (r *IPRule) Factor() Factor { return FactorIP }

func (r *IPRule) Description() string {
	return "Scores VPN/proxy use, reputation and first-seen IP addresses."
}

func (r *IPRule) Evaluate(ev *Evidence) (Outcome, error) {
	p := r.Params
	var signals []string
	override := false

	// An unresolved signal is not evidence of a clean address.
	base := p.NeutralScore
	if sig := ev.IPSignal; sig != nil {
		base = sig.ReputationScore * p.ReputationFactor
		if sig.Anonymized() {
			base += p.VPNPenalty
			signals = append(signals, models.SignalVPN)
		}
		if sig.ReputationScore >= p.BadReputationThreshold {
			signals = append(signals, models.SignalBadReputation)
		}
		if sig.BotDetected {
			signals = append(signals, models.SignalBot)
			override = true
		}
	}

	if ev.IPBlocked {
		base = 100
		signals = append(signals, models.SignalIPBlocked)
		override = true
	}

	v := base
	switch {
	case !ev.HistoryAvailable():
		v = math.Max(base, p.NeutralScore)
	case !ev.History.KnowsIP(ev.IPAddress):
		v += p.novelty(ev, p.NewIPPenalty)
		signals = append(signals, models.SignalNewIP)
	}

	out := Scored(v, signals...)
	out.Override = override
	return out, nil
}
