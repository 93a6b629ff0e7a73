// Package orchestrator wires the staged pipeline (C4), bundle assembly
// (C6), anti-MEV mitigation (C7), inclusion prediction (C8), relay routing
// (C9), and submission fan-out (C10) into a bounded worker pool that drives
// one intent at a time from RECEIVED through to SUBMITTED/DROPPED/REJECTED.
package orchestrator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"kestrel/audit"
	"kestrel/bundle"
	"kestrel/intent"
	"kestrel/pipeline"
	"kestrel/predictor"
	"kestrel/relay"
)

// Simulator resolves the transaction templates and gas/replacement policy a
// bundle is built from. External collaborator (spec.md §1 excludes the
// local transaction simulator from the core).
type Simulator interface {
	Simulate(ctx context.Context, in intent.Intent) (bundle.SimOutputs, error)
}

// LaneHealthSource reads the current lane health snapshot, mutated by an
// out-of-core health daemon and consumed read-only here (spec.md §5).
type LaneHealthSource interface {
	Lanes() []relay.LaneHealth
}

// Option customizes a Pool instance, following the teacher's functional-
// options idiom.
type Option func(*Pool)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock overrides the time source (test only).
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithAuditLog attaches an audit log for bundle/relay/policy records.
func WithAuditLog(log *audit.Log) Option {
	return func(p *Pool) { p.audit = log }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeadlineSecs sets the configured bundle deadline (spec.md §4.6).
func WithDeadlineSecs(secs int64) Option {
	return func(p *Pool) { p.deadlineSecs = secs }
}

// WithAntiMEV sets the anti-MEV tuning applied to every bundle.
func WithAntiMEV(epochMs, jitterMaxMs int64, decoyPct float64) Option {
	return func(p *Pool) {
		p.epochMs = epochMs
		p.jitterMaxMs = jitterMaxMs
		p.decoyPct = decoyPct
	}
}

// WithBackoff sets the relay router's backoff series configuration.
func WithBackoff(cfg relay.BackoffConfig) Option {
	return func(p *Pool) { p.backoff = cfg }
}

// Pool is the bounded worker pool coordinating C4/C6-C10 per intent.
type Pool struct {
	workers      int
	pipeline     *pipeline.Pipeline
	executor     *intent.Executor
	store        intent.Store
	simulator    Simulator
	lanes        LaneHealthSource
	submitter    relay.Submitter
	audit        *audit.Log
	logger       *slog.Logger
	now          func() time.Time
	deadlineSecs int64
	epochMs      int64
	jitterMaxMs  int64
	decoyPct     float64
	backoff      relay.BackoffConfig

	predMu      sync.Mutex
	predictions map[string]predictor.Prediction

	tasks chan string
	wg    sync.WaitGroup
}

// New constructs a Pool. p (the Pipeline), exec, and store must not be nil.
func New(p *pipeline.Pipeline, exec *intent.Executor, store intent.Store, simulator Simulator, lanes LaneHealthSource, submitter relay.Submitter, opts ...Option) *Pool {
	pool := &Pool{
		workers:      4,
		pipeline:     p,
		executor:     exec,
		store:        store,
		simulator:    simulator,
		lanes:        lanes,
		submitter:    submitter,
		logger:       slog.Default(),
		now:          time.Now,
		deadlineSecs: 60,
		epochMs:      1000,
		backoff:      relay.BackoffConfig{BaseMs: 200, Factor: 2, MaxMs: 5000, JitterPct: 20},
		predictions:  make(map[string]predictor.Prediction),
		tasks:        make(chan string, 1024),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Start launches the worker goroutines; they run until ctx is cancelled or
// Shutdown closes the task channel.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

// Submit enqueues an intent_id for processing. Non-blocking up to the
// queue's bound; returns false if the queue is full (caller should throttle
// with QUEUE_BACKPRESSURE at the submission boundary).
func (p *Pool) Submit(intentID string) bool {
	select {
	case p.tasks <- intentID:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting new work and waits up to grace for in-flight
// workers to drain cooperatively (spec.md §5's graceful shutdown).
func (p *Pool) Shutdown(grace time.Duration) {
	close(p.tasks)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Warn("orchestrator shutdown grace period exceeded, abandoning remaining workers")
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case intentID, ok := <-p.tasks:
			if !ok {
				return
			}
			p.process(ctx, intentID)
		}
	}
}

func (p *Pool) randSource() relay.RandSource {
	return rand.New(rand.NewSource(p.now().UnixNano()))
}

// recordPrediction caches the C8 output for intentID so the status endpoint
// can surface it, in addition to the durable audit.SubjectPredictions entry.
func (p *Pool) recordPrediction(intentID string, pred predictor.Prediction) {
	p.predMu.Lock()
	p.predictions[intentID] = pred
	p.predMu.Unlock()
}

// Prediction returns the most recent inclusion prediction computed for
// intentID, if the submission step has run for it (spec.md §4.8/§6).
func (p *Pool) Prediction(intentID string) (predictor.Prediction, bool) {
	p.predMu.Lock()
	defer p.predMu.Unlock()
	pred, ok := p.predictions[intentID]
	return pred, ok
}
