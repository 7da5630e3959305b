package ipintel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// Multi queries every provider concurrently and merges what comes back.
// Flags are OR-ed, the worst reputation wins, and location fields come from
// the first provider (in configuration order) that has them. The merge fails
// only when every provider failed.
type Multi struct {
	providers []Analyzer
	logger    zerolog.Logger
}

// NewMulti creates a merging analyzer over providers.
func NewMulti(logger zerolog.Logger, providers ...Analyzer) *Multi {
	return &Multi{
		providers: providers,
		logger:    logger.With().Str("component", "ipintel").Logger(),
	}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Analyze(ctx context.Context, ip string) (*models.IPSignal, error) {
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrSignalUnavailable)
	}

	results := make([]*models.IPSignal, len(m.providers))
	errs := make([]error, len(m.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.providers {
		g.Go(func() error {
			sig, err := p.Analyze(gctx, ip)
			if err != nil {
				m.logger.Warn().Err(err).Str("provider", p.Name()).Msg("IP provider failed")
				errs[i] = err
				return nil // one provider failing must not cancel the others
			}
			results[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	merged := merge(ip, results)
	if merged == nil {
		return nil, fmt.Errorf("%w: all providers failed: %v", ErrSignalUnavailable, errors.Join(errs...))
	}
	return merged, nil
}

func merge(ip string, results []*models.IPSignal) *models.IPSignal {
	var out *models.IPSignal
	var sources []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if out == nil {
			out = &models.IPSignal{IPAddress: ip, ResolvedAt: time.Now().UTC()}
		}
		sources = append(sources, r.Source)

		out.VPNDetected = out.VPNDetected || r.VPNDetected
		out.ProxyDetected = out.ProxyDetected || r.ProxyDetected
		out.DatacenterDetected = out.DatacenterDetected || r.DatacenterDetected
		out.TorDetected = out.TorDetected || r.TorDetected
		out.BotDetected = out.BotDetected || r.BotDetected
		if r.ReputationScore > out.ReputationScore {
			out.ReputationScore = r.ReputationScore
		}
		if out.ASN == 0 && r.ASN != 0 {
			out.ASN, out.ASNOrg = r.ASN, r.ASNOrg
		}
		if out.Country == "" && r.Country != "" {
			out.Country, out.City = r.Country, r.City
			out.Latitude, out.Longitude = r.Latitude, r.Longitude
		}
	}
	if out == nil {
		return nil
	}
	for i, s := range sources {
		if i > 0 {
			out.Source += "+"
		}
		out.Source += s
	}
	return out
}
