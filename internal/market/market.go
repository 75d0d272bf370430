// Package market holds the payload types shared between data ingestion,
// signal computation, and execution layers.
package market

import (
	"fmt"
	"time"
)

// PriceBar is one closed candle for a single instrument. Bars arrive
// oldest-first from the data gateway and are never mutated.
type PriceBar struct {
	Instrument string
	Ts         time.Time
	Close      float64
}

// Instrument describes a tradable perp market as reported by the venue.
type Instrument struct {
	Symbol      string
	MarketIndex int
	TickSize    float64
	StepSize    float64
	MinOrderSz  float64
}

// Table is a read-only instrument lookup keyed by symbol, populated once at
// startup from venue metadata.
type Table struct {
	bySymbol map[string]Instrument
}

// NewTable indexes the supplied instruments. Duplicate symbols keep the last
// entry.
func NewTable(instruments []Instrument) *Table {
	m := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "" {
			continue
		}
		m[inst.Symbol] = inst
	}
	return &Table{bySymbol: m}
}

// Get returns the instrument for symbol, or an error naming the symbol when
// the venue does not list it.
func (t *Table) Get(symbol string) (Instrument, error) {
	inst, ok := t.bySymbol[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("unknown instrument %q", symbol)
	}
	return inst, nil
}

// Len reports how many instruments the venue listed.
func (t *Table) Len() int { return len(t.bySymbol) }
