// Package dispatch runs background work (IP lookups, audit writes, history
// updates) off the decision path on a bounded queue with a fixed worker pool.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/metrics"
)

// ErrQueueFull is returned by Submit when the job was dropped.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Job is one unit of background work. Run is retried with exponential
// backoff up to MaxRetries extra times unless it returns a Permanent error.
type Job struct {
	ID         string
	Kind       string
	MaxRetries int
	Run        func(ctx context.Context) error
	// OnFailure runs once after the last attempt failed.
	OnFailure func(err error)
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error { return backoff.Permanent(err) }

// Config controls the pool.
type Config struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      1000,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		JobTimeout:     10 * time.Second,
	}
}

// Dispatcher owns the queue and the workers.
type Dispatcher struct {
	logger zerolog.Logger
	cfg    Config
	queue  chan *Job

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a dispatcher with cfg.Workers goroutines.
func New(logger zerolog.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger: logger.With().Str("component", "dispatcher").Logger(),
		cfg:    cfg,
		queue:  make(chan *Job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info().Int("workers", cfg.Workers).Int("queue_size", cfg.QueueSize).Msg("dispatcher started")
	return d
}

// Submit enqueues job without blocking. A full queue drops the job.
func (d *Dispatcher) Submit(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- job:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.JobsTotal.WithLabelValues(job.Kind, "dropped").Inc()
		d.logger.Warn().Str("id", job.ID).Str("kind", job.Kind).Msg("queue full, job dropped")
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Stop stops accepting jobs, finishes the queued ones and waits for the
// workers. Jobs still retrying when ctx expires are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info().Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		metrics.QueueDepth.Set(float64(len(d.queue)))
		d.run(job)
	}
}

func (d *Dispatcher) run(job *Job) {
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
		defer cancel()
		return job.Run(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.MaxInterval = d.cfg.MaxBackoff
	var policy backoff.BackOff = eb
	if job.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(eb, uint64(job.MaxRetries))
	}

	err := backoff.Retry(op, backoff.WithContext(policy, d.ctx))
	if err == nil {
		metrics.JobsTotal.WithLabelValues(job.Kind, "ok").Inc()
		return
	}

	metrics.JobsTotal.WithLabelValues(job.Kind, "failed").Inc()
	d.logger.Error().Err(err).Str("id", job.ID).Str("kind", job.Kind).Int("attempts", attempts).Msg("background job failed")
	if job.OnFailure != nil {
		job.OnFailure(err)
	}
}
