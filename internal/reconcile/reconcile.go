// Package reconcile rebuilds the in-process ledger from venue truth.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/venue"
)

// AnomalyError reports venue legs in a sign combination no valid spread
// position can produce: same-sign legs or a single nonzero leg. Trading must
// not continue on a guessed signal.
type AnomalyError struct {
	LegA venue.PositionEntry
	LegB venue.PositionEntry
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("position anomaly: %s=%.6f %s=%.6f does not map to any spread signal",
		e.LegA.Instrument, e.LegA.Qty, e.LegB.Instrument, e.LegB.Qty)
}

// Derive maps the venue's held quantities for the pair onto a ledger
// position. Long A / short B is +1, short A / long B is -1, both zero is
// flat, anything else is an anomaly.
func Derive(instrumentA, instrumentB string, positions []venue.PositionEntry, at time.Time) (ledger.Position, error) {
	var qtyA, qtyB float64
	for _, p := range positions {
		switch p.Instrument {
		case instrumentA:
			qtyA = p.Qty
		case instrumentB:
			qtyB = p.Qty
		}
	}

	pos := ledger.Position{
		LegA: ledger.Leg{Instrument: instrumentA, Qty: qtyA},
		LegB: ledger.Leg{Instrument: instrumentB, Qty: qtyB},
	}
	switch {
	case qtyA == 0 && qtyB == 0:
		pos.Signal = signal.Flat
	case qtyA > 0 && qtyB < 0:
		pos.Signal = signal.Long
		pos.OpenedAt = at
	case qtyA < 0 && qtyB > 0:
		pos.Signal = signal.Short
		pos.OpenedAt = at
	default:
		return ledger.Position{}, &AnomalyError{
			LegA: venue.PositionEntry{Instrument: instrumentA, Qty: qtyA},
			LegB: venue.PositionEntry{Instrument: instrumentB, Qty: qtyB},
		}
	}
	return pos, nil
}

// Reconciler queries the venue and overwrites the ledger.
type Reconciler struct {
	venue       venue.Adapter
	log         zerolog.Logger
	instrumentA string
	instrumentB string
}

func New(adapter venue.Adapter, instrumentA, instrumentB string, log zerolog.Logger) *Reconciler {
	return &Reconciler{venue: adapter, log: log, instrumentA: instrumentA, instrumentB: instrumentB}
}

// Run fetches venue positions and overwrites the ledger unconditionally. An
// anomaly leaves the ledger untouched and is returned for the caller to halt
// or flatten on.
func (r *Reconciler) Run(ctx context.Context, led *ledger.Ledger) error {
	positions, err := r.venue.Positions(ctx)
	if err != nil {
		metrics.ReconcilesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("query venue positions: %w", err)
	}

	pos, err := Derive(r.instrumentA, r.instrumentB, positions, time.Now().UTC())
	if err != nil {
		metrics.ReconcilesTotal.WithLabelValues("anomaly").Inc()
		r.log.Error().
			Str("event", "RECONCILE").
			Err(err).
			Msg("venue position does not map to a spread signal")
		return err
	}

	led.Overwrite(pos)
	metrics.ReconcilesTotal.WithLabelValues("ok").Inc()
	r.log.Info().
		Str("event", "RECONCILE").
		Str("signal", pos.Signal.String()).
		Float64("qty_a", pos.LegA.Qty).
		Float64("qty_b", pos.LegB.Qty).
		Msg("ledger rebuilt from venue")
	return nil
}
