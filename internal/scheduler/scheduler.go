// Package scheduler provides the periodic staleness sweep for LeadPulse.
//
// A cron job walks engaged conversations whose last contact has fallen
// past the staleness threshold and runs a reply cycle on each: the
// transition rules move the conversation to unresponsive and a follow-up
// message goes out unless the conversation landed in a sink state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// DefaultSweepSpec runs the sweep at the top of every hour.
const DefaultSweepSpec = "0 * * * *"

// DefaultSweepLimit caps how many conversations one sweep touches.
const DefaultSweepLimit = 200

// ReplyRunner runs one generate-and-maybe-send cycle for a conversation.
type ReplyRunner interface {
	GenerateAndMaybeSend(ctx context.Context, conversationID string) (*models.GenerateResult, error)
}

// Opts holds configuration options for the sweep scheduler.
type Opts struct {
	Spec               string
	SweepLimit         int
	StalenessThreshold time.Duration
}

// Option defines a configuration option for the sweep scheduler.
type Option func(*Opts)

// WithSpec sets the cron expression for the sweep.
func WithSpec(spec string) Option {
	return func(o *Opts) { o.Spec = spec }
}

// WithSweepLimit caps the number of conversations per sweep run.
func WithSweepLimit(n int) Option {
	return func(o *Opts) { o.SweepLimit = n }
}

// WithStalenessThreshold sets how old last contact must be before a
// conversation is swept.
func WithStalenessThreshold(d time.Duration) Option {
	return func(o *Opts) { o.StalenessThreshold = d }
}

// Scheduler owns the cron runner for the staleness sweep.
type Scheduler struct {
	store     store.Store
	runner    ReplyRunner
	spec      string
	limit     int
	threshold time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a sweep scheduler. It does not start the cron runner;
// call Start.
func New(st store.Store, runner ReplyRunner, threshold time.Duration, opts ...Option) *Scheduler {
	cfg := Opts{Spec: DefaultSweepSpec, SweepLimit: DefaultSweepLimit, StalenessThreshold: threshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSweepSpec
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = DefaultSweepLimit
	}
	return &Scheduler{
		store:     st,
		runner:    runner,
		spec:      cfg.Spec,
		limit:     cfg.SweepLimit,
		threshold: cfg.StalenessThreshold,
		logger:    slog.Default().With("component", "scheduler"),
	}
}

// Running reports whether the cron runner is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins the periodic sweep. Starting an already-running
// scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.spec, func() {
		if err := s.RunSweep(context.Background()); err != nil {
			s.logger.Error("Scheduler sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("Scheduler started", "spec", s.spec, "threshold", s.threshold)
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// RunSweep performs one staleness pass: engaged conversations with last
// contact strictly older than the threshold get a reply cycle, up to
// the sweep limit. The cycle applies the staleness transition and sends
// a follow-up unless the conversation is in a sink state.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.threshold)
	stale, err := s.store.ListStaleConversations(ctx, models.StateEngaged, cutoff, s.limit)
	if err != nil {
		return err
	}

	followedUp := 0
	for _, conv := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.runner.GenerateAndMaybeSend(ctx, conv.ID)
		if err != nil {
			s.logger.Error("Scheduler sweep reply cycle failed", "conversationID", conv.ID, "error", err)
			continue
		}
		if !result.Skipped {
			followedUp++
		}
	}
	s.logger.Info("Scheduler sweep finished", "candidates", len(stale), "followed_up", followedUp)
	return nil
}
