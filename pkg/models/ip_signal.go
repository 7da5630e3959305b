package models

import "time"

// IPSignal is the reputation verdict for one IP address. It is produced
// asynchronously and may be missing when a decision is taken.
//
// ReputationScore runs from 0 (clean) to 100 (worst).
type IPSignal struct {
	IPAddress          string    `json:"ipAddress"`
	VPNDetected        bool      `json:"vpnDetected"`
	ProxyDetected      bool      `json:"proxyDetected"`
	DatacenterDetected bool      `json:"datacenterDetected"`
	TorDetected        bool      `json:"torDetected"`
	BotDetected        bool      `json:"botDetected"`
	ReputationScore    float64   `json:"reputationScore"`
	ASN                uint      `json:"asn,omitempty"`
	ASNOrg             string    `json:"asnOrg,omitempty"`
	Country            string    `json:"country,omitempty"`
	City               string    `json:"city,omitempty"`
	Latitude           float64   `json:"latitude,omitempty"`
	Longitude          float64   `json:"longitude,omitempty"`
	Source             string    `json:"source"`
	ResolvedAt         time.Time `json:"resolvedAt"`
}

// Anonymized reports whether traffic is relayed through an anonymizing hop.
func (s *IPSignal) Anonymized() bool {
	return s.VPNDetected || s.ProxyDetected || s.TorDetected
}
