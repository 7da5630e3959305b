package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/models"
)

// DefaultSubjectPrefix is the root of every published subject.
const DefaultSubjectPrefix = "riskguard"

// NATSPublisher streams evaluations to NATS so downstream consumers (SIEM,
// case management) see decisions as they happen.
//
// Subjects:
//   - <prefix>.evaluations.<level> carries the full AuditRecord
//   - <prefix>.ipsignals carries late IP signals keyed by evaluation id
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// IPSignalEvent is published when an IP signal resolves after the decision.
type IPSignalEvent struct {
	EvaluationID string           `json:"evaluationId"`
	Signal       *models.IPSignal `json:"ipSignal"`
}

// ConnectNATS dials url and returns a publisher.
func ConnectNATS(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	p := &NATSPublisher{prefix: prefix, logger: logger.With().Str("component", "nats_publisher").Logger()}
	if p.prefix == "" {
		p.prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url,
		nats.Name("riskguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	p.nc = nc
	return p, nil
}

// EvaluationSubject returns the subject a record with level l is published on.
func (p *NATSPublisher) EvaluationSubject(l models.Level) string {
	return p.prefix + ".evaluations." + strings.ToLower(string(l))
}

func (p *NATSPublisher) Write(_ context.Context, rec *models.AuditRecord) error {
	level := models.LevelLow
	if rec.Result != nil {
		level = rec.Result.Level
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	if err := p.nc.Publish(p.EvaluationSubject(level), data); err != nil {
		return fmt.Errorf("%w: publish evaluation: %v", ErrPersistenceFailure, err)
	}
	return nil
}

func (p *NATSPublisher) AttachIPSignal(_ context.Context, id string, sig *models.IPSignal) error {
	data, err := json.Marshal(IPSignalEvent{EvaluationID: id, Signal: sig})
	if err != nil {
		return fmt.Errorf("marshal ip signal: %w", err)
	}
	if err := p.nc.Publish(p.prefix+".ipsignals", data); err != nil {
		return fmt.Errorf("%w: publish ip signal: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
