// Package engine runs one decision cycle: observe the spread on lagged bars,
// compare the derived signal to the ledger, and drive the position
// transition through the liquidity guard and the order execution unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/liquidity"
	"spreadbot-go/internal/market"
	"spreadbot-go/internal/marketdata"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/reconcile"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/venue"
)

// PricingMode selects how order prices are set.
type PricingMode string

const (
	// PricingMarket submits plain market orders.
	PricingMarket PricingMode = "market"
	// PricingOracleOffset submits crossing limit orders priced off the venue
	// oracle by a fixed offset.
	PricingOracleOffset PricingMode = "oracle_offset"
)

// ErrLiquidityRejected marks a cycle aborted by the liquidity guard before
// any order was submitted.
var ErrLiquidityRejected = errors.New("liquidity rejected")

// ErrPartialLeg marks the critical failure mode: one leg of a phase
// confirmed while the other exhausted its retries, so venue truth may have
// diverged from the ledger.
var ErrPartialLeg = errors.New("partial leg failure")

// Params are the spread and execution knobs, fixed at startup.
type Params struct {
	InstrumentA          string
	InstrumentB          string
	Ratio                float64
	QtyA                 float64
	QtyB                 float64
	LagBars              int
	HistoryBars          int
	MaxOpenSlippage      float64
	MaxCloseSlippage     float64
	MaxLegNotionalUSD    float64
	Pricing              PricingMode
	OracleOffsetBps      float64
	ReconcileEveryCycles int
}

// Engine owns the ledger. Only one cycle runs at a time (the scheduler's
// single-flight rule), so cycle state needs no locking beyond the ledger's
// own snapshot discipline.
type Engine struct {
	log    zerolog.Logger
	bars   marketdata.Gateway
	venue  venue.Adapter
	guard  *liquidity.Guard
	exec   *execution.Executor
	led    *ledger.Ledger
	rec    *reconcile.Reconciler
	params Params

	cycles uint64
	dirty  atomic.Bool
}

func New(
	log zerolog.Logger,
	bars marketdata.Gateway,
	adapter venue.Adapter,
	guard *liquidity.Guard,
	exec *execution.Executor,
	led *ledger.Ledger,
	rec *reconcile.Reconciler,
	params Params,
) *Engine {
	return &Engine{
		log:    log,
		bars:   bars,
		venue:  adapter,
		guard:  guard,
		exec:   exec,
		led:    led,
		rec:    rec,
		params: params,
	}
}

// Ledger exposes the engine's ledger for read-only snapshots.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Cycles returns how many cycles have started.
func (e *Engine) Cycles() uint64 { return atomic.LoadUint64(&e.cycles) }

// MarkDirty requests a reconciliation pass before the next trading decision.
func (e *Engine) MarkDirty() { e.dirty.Store(true) }

// Reconcile rebuilds the ledger from venue truth.
func (e *Engine) Reconcile(ctx context.Context) error {
	if err := e.rec.Run(ctx, e.led); err != nil {
		return err
	}
	e.dirty.Store(false)
	return nil
}

// RunCycle executes one decision cycle. Errors are reported, never fatal to
// the caller's loop; an AnomalyError wrapped in the return value is the one
// case the scheduler must stop trading on.
func (e *Engine) RunCycle(ctx context.Context) error {
	n := atomic.AddUint64(&e.cycles, 1)
	start := time.Now()
	metrics.CyclesTotal.Inc()
	e.log.Info().Str("event", "CYCLE_START").Uint64("cycle", n).Msg("cycle start")

	if e.dirty.Load() || (e.params.ReconcileEveryCycles > 0 && n%uint64(e.params.ReconcileEveryCycles) == 0) {
		if err := e.Reconcile(ctx); err != nil {
			return fmt.Errorf("cycle %d reconcile: %w", n, err)
		}
	}

	barsA, barsB, err := e.fetchBars(ctx)
	if err != nil {
		return fmt.Errorf("cycle %d fetch bars: %w", n, err)
	}
	laggedA, err := signal.LaggedBar(barsA, e.params.LagBars)
	if err != nil {
		return fmt.Errorf("cycle %d %s: %w", n, e.params.InstrumentA, err)
	}
	laggedB, err := signal.LaggedBar(barsB, e.params.LagBars)
	if err != nil {
		return fmt.Errorf("cycle %d %s: %w", n, e.params.InstrumentB, err)
	}

	obs := signal.Observe(laggedA.Close, laggedB.Close, e.params.Ratio)
	current := e.led.Signal()
	e.log.Info().
		Str("event", "SIGNAL").
		Uint64("cycle", n).
		Float64("price_a", obs.PriceA).
		Float64("price_b", obs.PriceB).
		Float64("spread", obs.Spread).
		Str("signal", obs.Signal.String()).
		Str("held", current.String()).
		Msg("spread observed")

	if obs.Signal == current {
		e.log.Debug().Uint64("cycle", n).Msg("signal unchanged, holding")
		return nil
	}

	if current != signal.Flat {
		if err := e.closePosition(ctx, n); err != nil {
			return err
		}
	}
	if obs.Signal != signal.Flat {
		if err := e.openPosition(ctx, n, obs.Signal); err != nil {
			return err
		}
	}

	e.log.Info().
		Uint64("cycle", n).
		Dur("took", time.Since(start)).
		Str("state", e.led.State().String()).
		Msg("cycle complete")
	return nil
}

func (e *Engine) fetchBars(ctx context.Context) ([]market.PriceBar, []market.PriceBar, error) {
	type result struct {
		bars []market.PriceBar
		err  error
	}
	chB := make(chan result, 1)
	go func() {
		bars, err := e.bars.RecentBars(ctx, e.params.InstrumentB, e.params.HistoryBars)
		chB <- result{bars: bars, err: err}
	}()

	barsA, errA := e.bars.RecentBars(ctx, e.params.InstrumentA, e.params.HistoryBars)
	resB := <-chB
	if errA != nil {
		return nil, nil, errA
	}
	if resB.err != nil {
		return nil, nil, resB.err
	}
	return barsA, resB.bars, nil
}

// closePosition fully closes both held legs. The ledger flips to flat only
// after both closes confirm.
func (e *Engine) closePosition(ctx context.Context, cycle uint64) error {
	pos := e.led.Snapshot()
	orderA, err := e.buildOrder(ctx, cycle, pos.LegA.Instrument, venue.SideForQty(-pos.LegA.Qty), abs(pos.LegA.Qty), true)
	if err != nil {
		return err
	}
	orderB, err := e.buildOrder(ctx, cycle, pos.LegB.Instrument, venue.SideForQty(-pos.LegB.Qty), abs(pos.LegB.Qty), true)
	if err != nil {
		return err
	}

	result := e.exec.SubmitPair(ctx, orderA, orderB)
	if result.Confirmed() {
		e.led.ApplyClose()
		e.log.Info().
			Str("event", "CLOSE").
			Uint64("cycle", cycle).
			Str("signal", pos.Signal.String()).
			Float64("qty_a", pos.LegA.Qty).
			Float64("qty_b", pos.LegB.Qty).
			Msg("position closed")
		return nil
	}
	return e.phaseFailure(cycle, "close", result)
}

// openPosition opens both legs for the target signal. The ledger records the
// position only after both opens confirm.
func (e *Engine) openPosition(ctx context.Context, cycle uint64, sig signal.Signal) error {
	qtyA := float64(sig) * e.params.QtyA
	qtyB := -float64(sig) * e.params.QtyB

	orderA, err := e.buildOrder(ctx, cycle, e.params.InstrumentA, venue.SideForQty(qtyA), abs(qtyA), false)
	if err != nil {
		return err
	}
	orderB, err := e.buildOrder(ctx, cycle, e.params.InstrumentB, venue.SideForQty(qtyB), abs(qtyB), false)
	if err != nil {
		return err
	}

	result := e.exec.SubmitPair(ctx, orderA, orderB)
	if result.Confirmed() {
		if err := e.led.ApplyOpen(
			ledger.Leg{Instrument: e.params.InstrumentA, Qty: qtyA},
			ledger.Leg{Instrument: e.params.InstrumentB, Qty: qtyB},
			sig, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("cycle %d record open: %w", cycle, err)
		}
		e.log.Info().
			Str("event", "OPEN").
			Uint64("cycle", cycle).
			Str("signal", sig.String()).
			Float64("qty_a", qtyA).
			Float64("qty_b", qtyB).
			Msg("position opened")
		return nil
	}
	return e.phaseFailure(cycle, "open", result)
}

// phaseFailure classifies a failed two-leg phase. A partial confirmation is
// the divergence case: the ledger keeps its last confirmed state and the next
// cycle starts with a reconciliation pass instead of a guess.
func (e *Engine) phaseFailure(cycle uint64, phase string, result execution.PairResult) error {
	if result.Partial() {
		e.MarkDirty()
		confirmed, failed := result.A, result.B
		if confirmed.Err != nil {
			confirmed, failed = result.B, result.A
		}
		e.log.Error().
			Str("event", "ERROR").
			Uint64("cycle", cycle).
			Str("phase", phase).
			Str("confirmed_leg", confirmed.Order.Instrument).
			Str("failed_leg", failed.Order.Instrument).
			Err(failed.Err).
			Msg("one leg confirmed, one exhausted retries: venue truth may diverge from ledger")
		return fmt.Errorf("cycle %d %s: %w: %v", cycle, phase, ErrPartialLeg, failed.Err)
	}
	return fmt.Errorf("cycle %d %s: %w", cycle, phase, result.Err())
}

// buildOrder assesses liquidity for the prospective leg and prices it. The
// guard is advisory; the decision to abort lives here, with a looser
// threshold for closes since open risk must stay unwindable.
func (e *Engine) buildOrder(ctx context.Context, cycle uint64, instrument string, side venue.Side, size float64, reduceOnly bool) (venue.Order, error) {
	snap := e.guard.Assess(ctx, instrument, side, size)
	threshold := e.params.MaxOpenSlippage
	if reduceOnly {
		threshold = e.params.MaxCloseSlippage
	}
	if !snap.CanFill || snap.Slippage > threshold {
		return venue.Order{}, fmt.Errorf("cycle %d %s %s %.6f: %w: canFill=%v slippage=%.6f threshold=%.6f",
			cycle, instrument, side, size, ErrLiquidityRejected, snap.CanFill, snap.Slippage, threshold)
	}
	if !reduceOnly && e.params.MaxLegNotionalUSD > 0 && size*snap.AvgFillPrice > e.params.MaxLegNotionalUSD {
		return venue.Order{}, fmt.Errorf("cycle %d %s: %w: notional %.2f exceeds cap %.2f",
			cycle, instrument, ErrLiquidityRejected, size*snap.AvgFillPrice, e.params.MaxLegNotionalUSD)
	}
	return venue.Order{
		Instrument: instrument,
		Side:       side,
		Size:       size,
		Price:      e.limitPrice(side, snap.OraclePrice),
		ReduceOnly: reduceOnly,
	}, nil
}

// limitPrice returns 0 (market) or a crossing limit priced off the oracle.
func (e *Engine) limitPrice(side venue.Side, oracle float64) float64 {
	if e.params.Pricing != PricingOracleOffset || oracle <= 0 {
		return 0
	}
	offset := oracle * e.params.OracleOffsetBps / 10000
	if side == venue.SideBuy {
		return oracle + offset
	}
	return oracle - offset
}

// Flatten force-closes whatever the venue actually holds in the pair,
// reduce-only, then rewrites the ledger flat. Used by the shutdown path, the
// end of a bounded run, and the flatten-on-anomaly policy.
func (e *Engine) Flatten(ctx context.Context, reason string) error {
	positions, err := e.venue.Positions(ctx)
	if err != nil {
		return fmt.Errorf("flatten: query positions: %w", err)
	}

	var orders []venue.Order
	for _, p := range positions {
		if p.Instrument != e.params.InstrumentA && p.Instrument != e.params.InstrumentB {
			continue
		}
		if p.Qty == 0 {
			continue
		}
		orders = append(orders, venue.Order{
			Instrument: p.Instrument,
			Side:       venue.SideForQty(-p.Qty),
			Size:       abs(p.Qty),
			ReduceOnly: true,
		})
	}

	switch len(orders) {
	case 0:
	case 1:
		if _, err := e.exec.Submit(ctx, orders[0]); err != nil {
			return fmt.Errorf("flatten %s: %w", orders[0].Instrument, err)
		}
	default:
		result := e.exec.SubmitPair(ctx, orders[0], orders[1])
		if !result.Confirmed() {
			if result.Partial() {
				e.MarkDirty()
			}
			return fmt.Errorf("flatten: %w", result.Err())
		}
	}

	e.led.Overwrite(ledger.Position{
		LegA:   ledger.Leg{Instrument: e.params.InstrumentA},
		LegB:   ledger.Leg{Instrument: e.params.InstrumentB},
		Signal: signal.Flat,
	})
	e.log.Info().
		Str("event", "CLOSE").
		Str("reason", reason).
		Int("legs_closed", len(orders)).
		Msg("position flattened")
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
