package rules

import "github.com/gokaycavdar/go-riskguard/pkg/models"

// DeviceRule scores the canonical device hash against the user's known
// devices. A blocklisted device is a hard override.
type DeviceRule struct {
	Params Params
}

func NewDeviceRule(p Params) *DeviceRule { return &DeviceRule{Params: p} }

func (r *DeviceRule) Name() string   { return "Device Novelty" }
func (r *DeviceRule) Factor() Factor { return FactorDevice }

func (r *DeviceRule) Description() string {
	return "Checks whether the device fingerprint was seen for this user before."
}

func (r *DeviceRule) Evaluate(ev *Evidence) (Outcome, error) {
	if ev.DeviceBlocked {
		out := Scored(100, models.SignalDeviceBlocked)
		out.Override = true
		return out, nil
	}
	if !ev.HistoryAvailable() {
		return Scored(r.Params.NeutralScore), nil
	}
	if ev.History.KnowsDevice(ev.DeviceHash) {
		return Scored(0), nil
	}
	return Scored(r.Params.novelty(ev, r.Params.NewDevicePenalty), models.SignalNewDevice), nil
}
