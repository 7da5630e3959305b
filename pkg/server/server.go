// Package server assembles the service from configuration: history and
// audit backends, IP intelligence, the engine, the background dispatcher
// and the HTTP router.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/api"
	"github.com/gokaycavdar/go-riskguard/pkg/audit"
	"github.com/gokaycavdar/go-riskguard/pkg/behavior"
	"github.com/gokaycavdar/go-riskguard/pkg/config"
	"github.com/gokaycavdar/go-riskguard/pkg/dispatch"
	"github.com/gokaycavdar/go-riskguard/pkg/engine"
	"github.com/gokaycavdar/go-riskguard/pkg/ipintel"
	"github.com/gokaycavdar/go-riskguard/pkg/orchestrator"
	"github.com/gokaycavdar/go-riskguard/pkg/rules"
	"github.com/gokaycavdar/go-riskguard/pkg/storage"
	"github.com/gokaycavdar/go-riskguard/pkg/tracing"
)

// Server owns every long-lived component.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	Orchestrator *orchestrator.Orchestrator
	Router       *gin.Engine

	jobs    *dispatch.Dispatcher
	closers []io.Closer
	tracing func(context.Context) error
	httpSrv *http.Server
}

// New builds the server. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, version string, logger zerolog.Logger) (_ *Server, err error) {
	s := &Server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Shutdown(context.Background())
		}
	}()

	s.tracing, err = tracing.Init(ctx, cfg.Tracing.OTLPEndpoint, version, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	history, blocklist, err := s.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.seedBlocklist(ctx, blocklist); err != nil {
		return nil, err
	}
	store, err := s.openAudit(ctx)
	if err != nil {
		return nil, err
	}
	analyzer, err := s.openIPIntel()
	if err != nil {
		return nil, err
	}

	a := cfg.Antifraude
	cache, err := ipintel.NewCache(a.IP.CachePath, a.IP.CacheTTL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, cache)

	eng := engine.New(cfg.EngineConfig(), logger)
	for _, r := range rules.Defaults(a.Rules, behavior.NewScorer(a.Behavior)) {
		eng.AddRule(r)
	}

	s.jobs = dispatch.New(logger, cfg.Dispatch)

	opts := []orchestrator.Option{
		orchestrator.WithIPCache(cache),
		orchestrator.WithAuditSink(store),
		orchestrator.WithBlocklist(blocklist),
	}
	if analyzer != nil {
		opts = append(opts, orchestrator.WithIPAnalyzer(analyzer))
	}
	s.Orchestrator = orchestrator.New(orchestrator.Config{
		Enabled:        a.Enabled,
		IPBudget:       a.IP.Budget,
		PersistRetries: a.PersistRetries,
	}, eng, history, s.jobs, logger, opts...)

	admin := api.NewAdminHandler(s.Orchestrator, blocklist, cfg.HTTP.AdminKeys, logger)
	if admin == nil {
		logger.Info().Msg("no admin keys configured, admin endpoints disabled")
	}
	s.Router, err = api.NewRouter(api.NewHandler(s.Orchestrator, store, logger), admin, cfg.HTTP.TrustedProxies, logger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	logger.Info().
		Bool("enabled", a.Enabled).
		Str("history", cfg.History.Backend).
		Bool("postgres", cfg.Audit.PostgresDSN != "").
		Bool("nats", cfg.Audit.NATSURL != "").
		Bool("ip_intel", analyzer != nil).
		Int("rules", len(eng.Rules())).
		Msg("risk engine assembled")
	return s, nil
}

// openHistory opens the history backend and the blocklist that shares it.
func (s *Server) openHistory(ctx context.Context) (storage.HistoryStore, storage.Blocklist, error) {
	h := s.cfg.History
	maxSamples := s.cfg.Antifraude.Behavior.MaxSamples

	var (
		store     storage.HistoryStore
		blocklist storage.Blocklist
	)
	switch h.Backend {
	case config.BackendRedis:
		rs, err := storage.NewRedisStore(ctx, h.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s history: %w", h.Backend, err)
		}
		store, blocklist = rs, rs.Blocklist()
	case config.BackendBunt:
		bs, err := storage.NewBuntStore(h.BuntPath, maxSamples, s.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s history: %w", h.Backend, err)
		}
		store, blocklist = bs, bs.Blocklist()
	default:
		store, blocklist = storage.NewMemoryStore(maxSamples), storage.NewMemoryBlocklist()
	}
	s.closers = append(s.closers, store)
	return store, blocklist, nil
}

// seedBlocklist adds the configured entries. Existing entries are
// overwritten with the same value, so restarts are harmless.
func (s *Server) seedBlocklist(ctx context.Context, b storage.Blocklist) error {
	c := s.cfg.Antifraude.Blocklist
	seed := func(kind storage.BlockKind, values []string) error {
		for _, v := range values {
			err := b.Block(ctx, storage.BlockEntry{Kind: kind, Value: v, Reason: "config"})
			if err != nil {
				return fmt.Errorf("seed blocklist: %w", err)
			}
		}
		return nil
	}
	if err := seed(storage.BlockDevice, c.Devices); err != nil {
		return err
	}
	if err := seed(storage.BlockIP, c.IPs); err != nil {
		return err
	}
	if n := len(c.Devices) + len(c.IPs); n > 0 {
		s.logger.Info().Int("entries", n).Msg("blocklist seeded from config")
	}
	return nil
}

func (s *Server) openAudit(ctx context.Context) (audit.Store, error) {
	c := s.cfg.Audit

	var primary audit.Store = audit.NewMemoryStore()
	if c.PostgresDSN != "" {
		pg, err := audit.OpenPostgres(ctx, c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		primary = pg
	} else {
		s.logger.Warn().Msg("no audit database configured, evaluations are kept in memory")
	}

	if c.NATSURL == "" {
		return primary, nil
	}
	pub, err := audit.ConnectNATS(c.NATSURL, c.NATSPrefix, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pub)
	return audit.NewFanout(primary, pub), nil
}

// openIPIntel builds the configured providers. It returns nil when none is
// configured; decisions then run with the IP signal absent.
func (s *Server) openIPIntel() (ipintel.Analyzer, error) {
	c := s.cfg.Antifraude.IP
	var providers []ipintel.Analyzer

	if c.CityDB != "" && c.ASNDB != "" {
		db, err := ipintel.OpenMaxMind(c.CityDB, c.ASNDB)
		if err != nil {
			return nil, err
		}
		var opts []ipintel.GeoIPOption
		if c.ProxyList != "" {
			l, err := ipintel.LoadPrefixList(c.ProxyList)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			opts = append(opts, ipintel.WithProxyList(l))
		}
		if c.AbuseList != "" {
			l, err := ipintel.LoadPrefixList(c.AbuseList)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			opts = append(opts, ipintel.WithAbuseList(l))
		}
		geo := ipintel.NewGeoIPAnalyzer(db, opts...)
		s.closers = append(s.closers, geo)
		providers = append(providers, geo)
	}
	if c.IPAPIEnabled {
		providers = append(providers, ipintel.NewIPAPIAnalyzer(c.IPAPIURL, c.IPAPITimeout))
	}

	switch len(providers) {
	case 0:
		s.logger.Warn().Msg("no ip intelligence configured")
		return nil, nil
	case 1:
		return providers[0], nil
	default:
		return ipintel.NewMulti(s.logger, providers...), nil
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.HTTP.Addr).Msg("listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutdown requested")
	case runErr = <-errChan:
		s.logger.Error().Err(runErr).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, drains background jobs and closes
// every backend.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpSrv != nil {
		errs = append(errs, s.httpSrv.Shutdown(ctx))
	}
	if s.jobs != nil {
		errs = append(errs, s.jobs.Stop(ctx))
	}
	if s.tracing != nil {
		errs = append(errs, s.tracing(ctx))
	}
	errs = append(errs, s.closeAll())
	return errors.Join(errs...)
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
