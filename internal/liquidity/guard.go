// Package liquidity estimates fill quality for a prospective order against
// current book depth. The guard is advisory: it never blocks or resizes an
// order, it only reports what the walk found.
package liquidity

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/venue"
)

// Snapshot is one depth assessment. Computed fresh per order decision, never
// cached across cycles.
type Snapshot struct {
	CanFill      bool
	Slippage     float64
	AvgFillPrice float64
	BestPrice    float64
	OraclePrice  float64
}

// Reject is the snapshot for a book that cannot fill the order or could not
// be read at all.
func Reject() Snapshot {
	return Snapshot{CanFill: false, Slippage: math.Inf(1)}
}

// Guard reads depth from the venue and walks it.
type Guard struct {
	venue venue.Adapter
	log   zerolog.Logger
}

func NewGuard(adapter venue.Adapter, log zerolog.Logger) *Guard {
	return &Guard{venue: adapter, log: log}
}

// Assess walks the book side the order would consume until requiredSize is
// filled or depth runs out. I/O failures come back as soft rejections, never
// as errors: a book we cannot read is a book we do not trade into.
func (g *Guard) Assess(ctx context.Context, instrument string, side venue.Side, requiredSize float64) Snapshot {
	book, err := g.venue.OrderBook(ctx, instrument, side)
	if err != nil {
		g.log.Warn().Err(err).Str("instrument", instrument).Msg("orderbook read failed, rejecting")
		metrics.LiquidityRejections.WithLabelValues(instrument).Inc()
		return Reject()
	}
	snap := Walk(book, requiredSize)
	if !snap.CanFill {
		metrics.LiquidityRejections.WithLabelValues(instrument).Inc()
	}
	return snap
}

// Walk accumulates filled size and notional across levels in price priority
// order. An exhausted book yields CanFill=false and infinite slippage;
// otherwise slippage is the relative deviation of the volume-weighted fill
// price from the best level.
func Walk(book venue.Book, requiredSize float64) Snapshot {
	if requiredSize <= 0 || len(book.Levels) == 0 {
		snap := Reject()
		snap.OraclePrice = book.OraclePrice
		return snap
	}

	best := book.Levels[0].Price
	remaining := requiredSize
	var notional float64
	for _, lvl := range book.Levels {
		take := math.Min(remaining, lvl.Size)
		notional += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		snap := Reject()
		snap.BestPrice = best
		snap.OraclePrice = book.OraclePrice
		return snap
	}

	avg := notional / requiredSize
	return Snapshot{
		CanFill:      true,
		Slippage:     math.Abs(avg-best) / best,
		AvgFillPrice: avg,
		BestPrice:    best,
		OraclePrice:  book.OraclePrice,
	}
}
