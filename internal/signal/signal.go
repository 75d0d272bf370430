// Package signal derives the ternary trade direction from the price
// relationship between the two instruments of the pair.
package signal

import (
	"errors"
	"fmt"

	"spreadbot-go/internal/market"
)

// Signal is the trade direction derived from the spread sign.
type Signal int

const (
	// Short means short instrument A, long instrument B.
	Short Signal = -1
	// Flat means no position.
	Flat Signal = 0
	// Long means long instrument A, short instrument B.
	Long Signal = 1
)

// String renders the signal the way the event stream reports it.
func (s Signal) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Observation is one spread reading. Recomputed every cycle, never persisted.
type Observation struct {
	PriceA float64
	PriceB float64
	Ratio  float64
	Spread float64
	Signal Signal
}

// Observe computes spread = priceA - ratio*priceB and maps its sign to a
// signal: negative spread means A is cheap relative to B, so go long A /
// short B. An exactly zero spread is flat.
func Observe(priceA, priceB, ratio float64) Observation {
	spread := priceA - ratio*priceB
	return Observation{
		PriceA: priceA,
		PriceB: priceB,
		Ratio:  ratio,
		Spread: spread,
		Signal: FromSpread(spread),
	}
}

// FromSpread maps a spread value to its signal: sign(-spread).
func FromSpread(spread float64) Signal {
	switch {
	case spread < 0:
		return Long
	case spread > 0:
		return Short
	default:
		return Flat
	}
}

// ErrInsufficientData reports that the gateway returned fewer bars than the
// lag requires.
var ErrInsufficientData = errors.New("not enough bars for lagged signal")

// LaggedBar picks the bar lag periods behind the newest one. Bars must be
// ordered oldest to newest. Using a lagged bar keeps the decision free of
// look-ahead: the freshest bar is never traded on.
func LaggedBar(bars []market.PriceBar, lag int) (market.PriceBar, error) {
	if lag < 0 {
		return market.PriceBar{}, fmt.Errorf("lag must be >= 0, got %d", lag)
	}
	idx := len(bars) - 1 - lag
	if idx < 0 {
		return market.PriceBar{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(bars), lag+1)
	}
	return bars[idx], nil
}
