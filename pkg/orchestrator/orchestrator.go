// Package orchestrator is the evaluation boundary. It validates a request,
// decides synchronously and moves everything else (IP lookups, audit
// records, history updates) onto the background dispatcher.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/audit"
	"github.com/gokaycavdar/go-riskguard/pkg/behavior"
	"github.com/gokaycavdar/go-riskguard/pkg/dispatch"
	"github.com/gokaycavdar/go-riskguard/pkg/engine"
	"github.com/gokaycavdar/go-riskguard/pkg/fingerprint"
	"github.com/gokaycavdar/go-riskguard/pkg/ipintel"
	"github.com/gokaycavdar/go-riskguard/pkg/metrics"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
	"github.com/gokaycavdar/go-riskguard/pkg/rules"
	"github.com/gokaycavdar/go-riskguard/pkg/storage"
	"github.com/gokaycavdar/go-riskguard/pkg/tracing"
)

// ErrInvalidRequest is the only error Evaluate returns.
var ErrInvalidRequest = errors.New("invalid request")

// Background job kinds.
const (
	JobIPLookup      = "ip_lookup"
	JobIPAttach      = "ip_attach"
	JobAuditWrite    = "audit_write"
	JobHistoryRecord = "history_record"
)

// Config controls the orchestrator.
type Config struct {
	Enabled bool
	// IPBudget is how long a decision waits for an uncached IP signal.
	IPBudget time.Duration
	// PersistRetries bounds retries of audit and history writes.
	PersistRetries int
}

// Orchestrator runs evaluations.
type Orchestrator struct {
	cfg     Config
	enabled atomic.Bool

	engine  *engine.Engine
	history storage.HistoryStore
	jobs    *dispatch.Dispatcher
	ip      ipintel.Analyzer
	cache   *ipintel.Cache
	audit   audit.Sink
	blocked storage.Blocklist

	logger zerolog.Logger
	now    func() time.Time
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithIPAnalyzer sets the IP reputation source. Without one every decision
// is taken with the IP signal absent.
func WithIPAnalyzer(a ipintel.Analyzer) Option {
	return func(o *Orchestrator) { o.ip = a }
}

// WithIPCache sets the signal cache consulted before any lookup.
func WithIPCache(c *ipintel.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithAuditSink sets where evaluation records go.
func WithAuditSink(s audit.Sink) Option {
	return func(o *Orchestrator) { o.audit = s }
}

// WithBlocklist sets the device and IP blocklist consulted before the rules
// run.
func WithBlocklist(b storage.Blocklist) Option {
	return func(o *Orchestrator) { o.blocked = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. history and jobs are required.
func New(cfg Config, eng *engine.Engine, history storage.HistoryStore, jobs *dispatch.Dispatcher, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.IPBudget <= 0 {
		cfg.IPBudget = 150 * time.Millisecond
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	o := &Orchestrator{
		cfg:     cfg,
		engine:  eng,
		history: history,
		jobs:    jobs,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		now:     time.Now,
	}
	o.enabled.Store(cfg.Enabled)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enabled reports whether evaluations run.
func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// SetEnabled switches evaluation on or off at runtime.
func (o *Orchestrator) SetEnabled(v bool) {
	o.enabled.Store(v)
	o.logger.Info().Bool("enabled", v).Msg("evaluation toggled")
}

// NotEvaluated returns the fixed allow decision used while evaluation is
// switched off.
func (o *Orchestrator) NotEvaluated() *models.RiskResult {
	metrics.EvaluationsTotal.WithLabelValues(string(models.LevelLow), "false").Inc()
	return models.NotEvaluated(uuid.NewString(), o.now())
}

// Evaluate decides on req. clientIP is the caller's address as resolved by
// ClientIP. The only error is ErrInvalidRequest; missing or failing signal
// sources degrade the decision instead.
func (o *Orchestrator) Evaluate(ctx context.Context, req *models.EvaluationRequest, clientIP string) (*models.RiskResult, error) {
	if !o.Enabled() {
		return o.NotEvaluated(), nil
	}
	now := o.now()
	if err := Validate(req); err != nil {
		return nil, err
	}
	deviceHash, err := fingerprint.Canonicalize(req.FingerprintData.Components())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if net.ParseIP(clientIP) == nil {
		clientIP = ""
	}

	ctx, span := tracing.StartSpan(ctx, "riskguard.evaluate",
		tracing.UserID(req.UserID), tracing.EventType(req.EventType))
	defer span.End()

	ev := &rules.Evidence{
		UserID:      req.UserID,
		DeviceHash:  deviceHash,
		IPAddress:   clientIP,
		Geolocation: req.Geolocation,
		Behavior:    req.Behavior,
		EventType:   req.EventType,
		Now:         now,
	}
	ev.History, ev.HistoryErr = o.snapshot(ctx, req.UserID)
	ev.DeviceBlocked, ev.IPBlocked = o.checkBlocklist(ctx, deviceHash, req.FingerprintHash, clientIP)

	lookup := o.startIPLookup(clientIP)
	ev.IPSignal = lookup.wait(ctx, o.cfg.IPBudget)

	result := o.engine.Analyze(ev)
	span.SetAttributes(tracing.Level(string(result.Level)), tracing.Score(result.Score))

	// A signal that arrived after the budget still goes into the record;
	// one that has not arrived yet is attached when it does.
	recorded := ev.IPSignal
	if late, ok := lookup.handoff(result.ID); ok {
		recorded = late
	}

	o.persist(req, ev, result, recorded)
	return result, nil
}

// snapshot reads the user's history. Anonymous events have none to read
// and are evaluated as a cold start.
func (o *Orchestrator) snapshot(ctx context.Context, userID string) (*models.HistoryRecord, error) {
	if userID == "" {
		return models.NewHistoryRecord(""), nil
	}
	h, err := o.history.Snapshot(ctx, userID)
	if err != nil {
		metrics.DegradedTotal.WithLabelValues("history").Inc()
		o.logger.Warn().Err(err).Str("user_id", userID).Msg("history unavailable, evaluating without it")
		return nil, err
	}
	return h, nil
}

// checkBlocklist reports whether the device (by canonical or client hash)
// or the address is blocked. An unreadable blocklist blocks nothing.
func (o *Orchestrator) checkBlocklist(ctx context.Context, deviceHash, clientHash, ip string) (device, addr bool) {
	if o.blocked == nil {
		return false, false
	}
	lookup := func(kind storage.BlockKind, value string) bool {
		if value == "" {
			return false
		}
		hit, err := o.blocked.IsBlocked(ctx, kind, value)
		if err != nil {
			metrics.DegradedTotal.WithLabelValues("blocklist").Inc()
			o.logger.Warn().Err(err).Str("kind", string(kind)).Msg("blocklist unavailable, not blocking")
			return false
		}
		return hit
	}
	device = lookup(storage.BlockDevice, deviceHash) || lookup(storage.BlockDevice, clientHash)
	addr = lookup(storage.BlockIP, ip)
	return device, addr
}

// persist enqueues the audit record and, unless the event was blocked, the
// history update. Both run after the decision so an evaluation never sees
// its own observation.
func (o *Orchestrator) persist(req *models.EvaluationRequest, ev *rules.Evidence, result *models.RiskResult, sig *models.IPSignal) {
	if o.audit != nil {
		rec := &models.AuditRecord{
			ID:              result.ID,
			UserID:          req.UserID,
			EventType:       req.EventType,
			ClientHash:      req.FingerprintHash,
			DeviceHash:      ev.DeviceHash,
			FingerprintData: req.FingerprintData,
			IPAddress:       ev.IPAddress,
			Geolocation:     req.Geolocation,
			Behavior:        req.Behavior,
			IPSignal:        sig,
			Result:          result,
			CreatedAt:       result.EvaluatedAt,
		}
		o.submit(&dispatch.Job{
			ID:         result.ID,
			Kind:       JobAuditWrite,
			MaxRetries: o.cfg.PersistRetries,
			Run: func(ctx context.Context) error {
				return o.audit.Write(ctx, rec)
			},
			OnFailure: func(err error) {
				o.logger.Error().Err(fmt.Errorf("%w: %v", audit.ErrPersistenceFailure, err)).
					Str("evaluation_id", rec.ID).Msg("audit record lost")
			},
		})
	}

	if result.Blocked || req.UserID == "" {
		return
	}
	obs := &models.Observation{
		UserID:     req.UserID,
		DeviceHash: ev.DeviceHash,
		IPAddress:  ev.IPAddress,
		Location:   req.Geolocation,
		ObservedAt: ev.Now,
	}
	// Anomalous sessions stay out of the profile they were judged against.
	if req.Behavior != nil && !result.HasSignal(models.SignalBehaviorAnomaly) {
		obs.BehaviorFeatures = behavior.Features(req.Behavior)
	}
	o.submit(&dispatch.Job{
		Kind:       JobHistoryRecord,
		MaxRetries: o.cfg.PersistRetries,
		Run: func(ctx context.Context) error {
			return o.history.RecordObservation(ctx, obs)
		},
	})
}

func (o *Orchestrator) submit(job *dispatch.Job) bool {
	if err := o.jobs.Submit(job); err != nil {
		o.logger.Warn().Err(err).Str("kind", job.Kind).Msg("background job not scheduled")
		return false
	}
	return true
}

// Validate checks the request shape.
func Validate(req *models.EvaluationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	var missing []string
	if strings.TrimSpace(req.FingerprintHash) == "" {
		missing = append(missing, "fingerprintHash")
	}
	if len(req.FingerprintData) == 0 {
		missing = append(missing, "fingerprintData")
	}
	if strings.TrimSpace(req.EventType) == "" {
		missing = append(missing, "tipoEvento")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if g := req.Geolocation; g != nil && !g.Valid() {
		return fmt.Errorf("%w: geolocalizacao out of range (%v, %v)", ErrInvalidRequest, g.Latitude, g.Longitude)
	}
	if b := req.Behavior; b != nil && (b.BotProbability < 0 || b.BotProbability > 1) {
		return fmt.Errorf("%w: scoreBotProbabilidade must be in [0,1]", ErrInvalidRequest)
	}
	return nil
}

// ClientIP picks the caller address: the first X-Forwarded-For entry, else
// X-Real-IP, else the transport peer. It returns "" when none parses.
func ClientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if ip := strings.TrimSpace(realIP); net.ParseIP(ip) != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return ""
}

// ipLookup hands an IP signal from a background job to the decision path,
// or to a late attach once the decision went ahead without it.
type ipLookup struct {
	o      *Orchestrator
	ip     string
	start  time.Time
	cached *models.IPSignal
	done   chan *models.IPSignal

	mu     sync.Mutex
	lateID string
}

func (o *Orchestrator) startIPLookup(ip string) *ipLookup {
	l := &ipLookup{o: o, ip: ip, start: time.Now()}
	if ip == "" || o.ip == nil {
		return l
	}
	if o.cache != nil {
		if sig, ok := o.cache.Get(ip); ok {
			l.cached = sig
			return l
		}
	}

	l.done = make(chan *models.IPSignal, 1)
	ok := o.submit(&dispatch.Job{
		Kind:       JobIPLookup,
		MaxRetries: 0,
		Run: func(ctx context.Context) error {
			sig, err := o.ip.Analyze(ctx, ip)
			if err != nil {
				l.deliver(nil)
				return dispatch.Permanent(err)
			}
			if o.cache != nil {
				if err := o.cache.Put(sig); err != nil {
					o.logger.Debug().Err(err).Str("ip", ip).Msg("ip cache write failed")
				}
			}
			l.deliver(sig)
			return nil
		},
		OnFailure: func(err error) {
			o.logger.Warn().Err(err).Str("ip", ip).Msg("ip signal unavailable")
		},
	})
	if !ok {
		l.done = nil
	}
	return l
}

// wait returns the signal if it is available within budget.
func (l *ipLookup) wait(ctx context.Context, budget time.Duration) *models.IPSignal {
	switch {
	case l.cached != nil:
		l.observe("cached")
		return l.cached
	case l.ip == "" || l.o.ip == nil:
		return nil
	case l.done == nil:
		l.observe("unscheduled")
		metrics.DegradedTotal.WithLabelValues("ip_signal").Inc()
		return nil
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case sig := <-l.done:
		if sig == nil {
			l.observe("failed")
			metrics.DegradedTotal.WithLabelValues("ip_signal").Inc()
			return nil
		}
		l.observe("resolved")
		return sig
	case <-timer.C:
	case <-ctx.Done():
	}
	l.observe("timeout")
	metrics.DegradedTotal.WithLabelValues("ip_signal").Inc()
	return nil
}

// handoff is called once the decision exists. It returns a signal that
// arrived after the budget but before now; otherwise it records the
// evaluation id so a later delivery attaches to the stored record.
func (l *ipLookup) handoff(evaluationID string) (*models.IPSignal, bool) {
	if l.done == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case sig := <-l.done:
		return sig, sig != nil
	default:
		l.lateID = evaluationID
		return nil, false
	}
}

func (l *ipLookup) deliver(sig *models.IPSignal) {
	l.mu.Lock()
	id := l.lateID
	if id == "" {
		l.done <- sig
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if sig == nil || l.o.audit == nil {
		return
	}
	o := l.o
	o.submit(&dispatch.Job{
		Kind:       JobIPAttach,
		MaxRetries: o.cfg.PersistRetries,
		Run: func(ctx context.Context) error {
			return o.audit.AttachIPSignal(ctx, id, sig)
		},
	})
}

func (l *ipLookup) observe(outcome string) {
	metrics.IPSignalWait.WithLabelValues(outcome).Observe(time.Since(l.start).Seconds())
}
