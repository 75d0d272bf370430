// Package replay provides an in-memory venue for bounded runs and tests:
// orders fill at the current replay mark and positions track fills, so
// reconciliation and the ledger see the same truth a live venue would give.
package replay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"spreadbot-go/internal/market"
	"spreadbot-go/internal/venue"
)

// MarkSource supplies the current mark price per instrument, typically the
// replay file source's newest exposed close.
type MarkSource interface {
	Mark(instrument string) (float64, bool)
}

// FillRecorder captures replay fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}

// Fill is one executed replay order.
type Fill struct {
	Ts         time.Time `json:"ts"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	ReduceOnly bool      `json:"reduce_only"`
}

// Venue implements venue.Adapter against in-memory state.
type Venue struct {
	mu          sync.Mutex
	marks       MarkSource
	positions   map[string]float64
	instruments []market.Instrument
	recorder    FillRecorder
	failures    map[string]int
	now         func() time.Time
}

// NewVenue builds a replay venue over the supplied mark source.
func NewVenue(marks MarkSource, instruments []market.Instrument) *Venue {
	return &Venue{
		marks:       marks,
		positions:   make(map[string]float64),
		instruments: instruments,
		failures:    make(map[string]int),
		now:         time.Now,
	}
}

// SetRecorder attaches a fill journal.
func (v *Venue) SetRecorder(r FillRecorder) { v.recorder = r }

// FailNext makes the next n placements for instrument fail, for exercising
// retry and partial-leg paths.
func (v *Venue) FailNext(instrument string, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[instrument] = n
}

// SeedPosition sets a starting position, for reconciliation scenarios.
func (v *Venue) SeedPosition(instrument string, qty float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[instrument] = qty
}

func (v *Venue) Subscribe(context.Context) error { return nil }
func (v *Venue) Unsubscribe() error              { return nil }

func (v *Venue) Instruments(context.Context) ([]market.Instrument, error) {
	out := make([]market.Instrument, len(v.instruments))
	copy(out, v.instruments)
	return out, nil
}

func (v *Venue) Positions(context.Context) ([]venue.PositionEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]venue.PositionEntry, 0, len(v.positions))
	for instrument, qty := range v.positions {
		if qty == 0 {
			continue
		}
		out = append(out, venue.PositionEntry{Instrument: instrument, Qty: qty})
	}
	return out, nil
}

// OrderBook synthesizes deep two-level books around the mark so the
// liquidity guard sees a fillable market by default.
func (v *Venue) OrderBook(_ context.Context, instrument string, side venue.Side) (venue.Book, error) {
	mark, ok := v.marks.Mark(instrument)
	if !ok {
		return venue.Book{}, fmt.Errorf("no mark for %s", instrument)
	}
	step := mark * 0.0001
	if side == venue.SideSell {
		step = -step
	}
	return venue.Book{
		Levels: []venue.BookLevel{
			{Price: mark + step, Size: 1e6},
			{Price: mark + 2*step, Size: 1e6},
		},
		OraclePrice: mark,
	}, nil
}

func (v *Venue) PlaceOrder(_ context.Context, order venue.Order) (*venue.Confirmation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failures[order.Instrument] > 0 {
		v.failures[order.Instrument]--
		return nil, fmt.Errorf("scripted failure for %s", order.Instrument)
	}
	mark, ok := v.marks.Mark(order.Instrument)
	if !ok {
		return nil, fmt.Errorf("no mark for %s", order.Instrument)
	}
	if order.Size <= 0 {
		return nil, fmt.Errorf("order size must be positive")
	}

	delta := order.Size
	if order.Side == venue.SideSell {
		delta = -order.Size
	}
	held := v.positions[order.Instrument]
	next := held + delta
	if order.ReduceOnly {
		if held == 0 || math.Abs(next) > math.Abs(held) || held*next < 0 {
			return nil, fmt.Errorf("reduce-only order would grow or flip %s: held %.6f, delta %.6f", order.Instrument, held, delta)
		}
	}
	v.positions[order.Instrument] = next

	if v.recorder != nil {
		v.recorder.Record(Fill{
			Ts:         v.now().UTC(),
			Instrument: order.Instrument,
			Side:       string(order.Side),
			Size:       order.Size,
			Price:      mark,
			ReduceOnly: order.ReduceOnly,
		})
	}
	return &venue.Confirmation{
		OrderID:    fmt.Sprintf("replay-%s-%d", order.Instrument, v.now().UnixNano()),
		Instrument: order.Instrument,
		Side:       order.Side,
		Size:       order.Size,
		FillPrice:  mark,
	}, nil
}
