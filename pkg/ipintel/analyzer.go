// Package ipintel turns an IP address into a reputation signal: anonymizer
// flags, hosting detection, coarse location and a 0..100 reputation score.
package ipintel

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// ErrSignalUnavailable is returned when no provider could produce a signal.
var ErrSignalUnavailable = errors.New("ip signal unavailable")

// Analyzer resolves an IP address into a signal.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, ip string) (*models.IPSignal, error)
}

// Reputation weights, in points on the 0..100 scale.
const (
	vpnWeight        = 40
	proxyWeight      = 40
	torWeight        = 80
	datacenterWeight = 50
	botWeight        = 80
)

// Reputation derives the 0..100 reputation of a signal from its flags.
func Reputation(s *models.IPSignal) float64 {
	var score float64
	if s.VPNDetected {
		score += vpnWeight
	}
	if s.ProxyDetected {
		score += proxyWeight
	}
	if s.TorDetected {
		score += torWeight
	}
	if s.DatacenterDetected {
		score += datacenterWeight
	}
	if s.BotDetected {
		score += botWeight
	}
	if score > 100 {
		score = 100
	}
	return score
}

// IsPrivate reports whether ip is loopback, link-local, unspecified or in a
// private range. Such addresses never leave the network and are not looked up.
func IsPrivate(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast()
}

// privateSignal is the clean signal returned for internal addresses.
func privateSignal(ip, source string) *models.IPSignal {
	return &models.IPSignal{IPAddress: ip, Source: source, ResolvedAt: time.Now().UTC()}
}
