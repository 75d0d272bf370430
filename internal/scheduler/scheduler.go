// Package scheduler paces the decision loop: one cycle per interval, never
// two at once, and a drain-then-flatten shutdown when the context ends.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/reconcile"
	"spreadbot-go/internal/signal"
)

// Engine is the slice of the cycle engine the scheduler drives.
type Engine interface {
	RunCycle(ctx context.Context) error
	Flatten(ctx context.Context, reason string) error
	Ledger() *ledger.Ledger
	Cycles() uint64
}

// Options tune the loop. FlattenOnAnomaly selects the venue.on_anomaly=flatten
// policy; the default is to halt trading on the first anomaly.
type Options struct {
	Interval         time.Duration
	DrainTimeout     time.Duration
	FlattenOnAnomaly bool
}

// Scheduler runs the engine on a fixed cadence. Cycles run in their own
// goroutine so a slow venue never blocks the ticker; a tick that lands while
// a cycle is in flight is dropped, not queued.
type Scheduler struct {
	engine Engine
	log    zerolog.Logger
	opts   Options

	busy   atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu    sync.Mutex
	fatal error
}

func New(eng Engine, opts Options, log zerolog.Logger) *Scheduler {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	return &Scheduler{engine: eng, log: log, opts: opts}
}

// Run drives cycles until ctx ends or a cycle fails fatally, then shuts down:
// drain the in-flight cycle, force-flatten any held position, and return.
// Shutdown runs exactly once no matter how the loop exits.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// Cycles run under their own context so a stop request drains the
	// in-flight cycle instead of aborting its retry budget mid-order. It is
	// cancelled only when the drain courtesy wait expires.
	cycleCtx, cycleCancel := context.WithCancel(context.Background())
	defer cycleCancel()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.opts.Interval).
		Bool("flatten_on_anomaly", s.opts.FlattenOnAnomaly).
		Msg("scheduler started")

	s.launch(cycleCtx)
	for {
		select {
		case <-runCtx.Done():
			s.shutdown(cycleCancel)
			return s.err()
		case <-ticker.C:
			s.launch(cycleCtx)
		}
	}
}

// Stop requests shutdown. Safe to call before Run and more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// launch starts one cycle unless the previous one is still in flight.
func (s *Scheduler) launch(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.Inc()
		s.log.Warn().
			Str("event", "SKIP").
			Uint64("cycle", s.engine.Cycles()).
			Dur("interval", s.opts.Interval).
			Msg("previous cycle still in flight, tick dropped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.cycle(ctx)
	}()
}

// cycle runs the engine once and classifies the outcome. Transient
// conditions are warnings; an anomaly either flattens or stops the loop
// depending on policy.
func (s *Scheduler) cycle(ctx context.Context) {
	err := s.engine.RunCycle(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	var anomaly *reconcile.AnomalyError
	switch {
	case errors.As(err, &anomaly):
		if s.opts.FlattenOnAnomaly {
			s.log.Error().Err(err).Msg("position anomaly, flattening per policy")
			ferr := s.engine.Flatten(ctx, "anomaly")
			if ferr == nil {
				return
			}
			s.fail(errors.Join(err, ferr))
			return
		}
		s.fail(err)
	case errors.Is(err, signal.ErrInsufficientData), errors.Is(err, engine.ErrLiquidityRejected):
		s.log.Warn().Err(err).Msg("cycle held back")
	default:
		s.log.Error().Str("event", "ERROR").Err(err).Msg("cycle failed")
	}
}

// fail records the first fatal error and stops the loop.
func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.Stop()
}

func (s *Scheduler) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// shutdown drains the in-flight cycle, then force-flattens whatever is still
// held. The cycle context stays alive through the courtesy wait so order
// retries run their full budget; it is cancelled only once the wait expires.
func (s *Scheduler) shutdown(cycleCancel context.CancelFunc) {
	s.log.Info().Msg("scheduler stopping, draining in-flight cycle")

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.opts.DrainTimeout):
		cycleCancel()
		s.log.Warn().Dur("timeout", s.opts.DrainTimeout).Msg("drain timed out, flattening anyway")
	}

	// A fatal stop means venue truth is unknown; leave the position for the
	// operator instead of trading on a guess.
	if s.err() != nil {
		s.log.Error().Msg("scheduler halted, leaving position untouched")
		return
	}
	if s.engine.Ledger().State() == ledger.Flat {
		s.log.Info().Msg("scheduler stopped flat")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()
	if err := s.engine.Flatten(ctx, "shutdown"); err != nil {
		s.log.Error().Err(err).Msg("shutdown flatten failed, venue may still hold the position")
		return
	}
	s.log.Info().Msg("scheduler stopped flat")
}
