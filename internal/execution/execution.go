// Package execution submits orders with bounded retries and runs the two
// legs of a spread phase concurrently.
package execution

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/venue"
)

// RetryPolicy is fixed at startup and shared by every submission.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Delay returns the sleep before retrying after the given 1-based attempt:
// base * multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// Executor wraps the venue's PlaceOrder in the retry policy.
type Executor struct {
	venue  venue.Adapter
	policy RetryPolicy
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(adapter venue.Adapter, policy RetryPolicy, log zerolog.Logger) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	return &Executor{
		venue:  adapter,
		policy: policy,
		log:    log,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit places one order, retrying transient failures per the policy. The
// final attempt's error propagates unmodified.
func (e *Executor) Submit(ctx context.Context, order venue.Order) (*venue.Confirmation, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		conf, err := e.venue.PlaceOrder(ctx, order)
		if err == nil {
			metrics.OrdersTotal.WithLabelValues(order.Instrument, string(order.Side)).Inc()
			e.log.Info().
				Str("instrument", order.Instrument).
				Str("side", string(order.Side)).
				Float64("size", order.Size).
				Bool("reduce_only", order.ReduceOnly).
				Int("attempt", attempt).
				Str("order_id", conf.OrderID).
				Msg("order confirmed")
			return conf, nil
		}
		lastErr = err
		e.log.Warn().
			Err(err).
			Str("instrument", order.Instrument).
			Int("attempt", attempt).
			Int("max_attempts", e.policy.MaxAttempts).
			Msg("order attempt failed")
		if attempt == e.policy.MaxAttempts {
			break
		}
		metrics.OrderRetries.Inc()
		if err := e.sleep(ctx, e.policy.Delay(attempt)); err != nil {
			// keep the venue's last word alongside the interrupt
			return nil, errors.Join(err, lastErr)
		}
	}
	return nil, lastErr
}

// LegResult is the outcome of one leg of a pair phase.
type LegResult struct {
	Order        venue.Order
	Confirmation *venue.Confirmation
	Err          error
}

// PairResult joins both legs of a phase. The phase succeeds only when both
// legs confirm; exactly one confirmation is the partial-leg case the caller
// must treat as a position-truth divergence.
type PairResult struct {
	A LegResult
	B LegResult
}

// Confirmed reports full success of the phase.
func (r PairResult) Confirmed() bool { return r.A.Err == nil && r.B.Err == nil }

// Partial reports that exactly one leg confirmed, meaning venue truth may
// have diverged from the ledger.
func (r PairResult) Partial() bool {
	return (r.A.Err == nil) != (r.B.Err == nil)
}

// Err returns the first leg error, A before B.
func (r PairResult) Err() error {
	if r.A.Err != nil {
		return r.A.Err
	}
	return r.B.Err
}

// SubmitPair runs both legs concurrently, each with its own retry budget,
// and joins them. Neither leg is cancelled on the other's failure: an order
// once sent is never recalled, so both budgets run to completion.
func (e *Executor) SubmitPair(ctx context.Context, orderA, orderB venue.Order) PairResult {
	resultB := make(chan LegResult, 1)
	go func() {
		conf, err := e.Submit(ctx, orderB)
		resultB <- LegResult{Order: orderB, Confirmation: conf, Err: err}
	}()

	confA, errA := e.Submit(ctx, orderA)
	return PairResult{
		A: LegResult{Order: orderA, Confirmation: confA, Err: errA},
		B: <-resultB,
	}
}
