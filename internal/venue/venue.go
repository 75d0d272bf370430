// Package venue defines the execution boundary: the adapter interface the
// core trades through, plus the Drift-style gateway client implementing it.
package venue

import (
	"context"

	"spreadbot-go/internal/market"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side, used when closing a leg.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideForQty maps a signed quantity delta to the order side that produces it.
func SideForQty(qty float64) Side {
	if qty < 0 {
		return SideSell
	}
	return SideBuy
}

// Order is one placement request. Price 0 means a market order.
type Order struct {
	Instrument string
	Side       Side
	Size       float64
	Price      float64
	ReduceOnly bool
	ClientID   string
}

// Confirmation is the venue's acknowledgement of a placed order.
type Confirmation struct {
	OrderID    string
	Instrument string
	Side       Side
	Size       float64
	FillPrice  float64
}

// PositionEntry is one instrument's signed held quantity as reported by the
// venue. Positive is long.
type PositionEntry struct {
	Instrument string
	Qty        float64
}

// BookLevel is one price level of the order book, best first.
type BookLevel struct {
	Price float64
	Size  float64
}

// Book is a one-sided depth snapshot plus the venue oracle price.
type Book struct {
	Levels      []BookLevel
	OraclePrice float64
}

// Adapter is the surface the core needs from the venue. The gateway behind it
// is a black box; implementations must treat every method as a network call.
type Adapter interface {
	// Subscribe opens the venue connection and starts the account stream.
	Subscribe(ctx context.Context) error
	// Unsubscribe releases the connection. Safe to call more than once.
	Unsubscribe() error
	// Instruments lists venue market metadata.
	Instruments(ctx context.Context) ([]market.Instrument, error)
	// Positions returns the signed held quantity per instrument.
	Positions(ctx context.Context) ([]PositionEntry, error)
	// OrderBook returns depth for one side of an instrument's book. The side
	// is the side the prospective order would take liquidity from: a buy
	// walks asks, a sell walks bids.
	OrderBook(ctx context.Context, instrument string, side Side) (Book, error)
	// PlaceOrder submits one order and blocks until the venue confirms or
	// rejects it.
	PlaceOrder(ctx context.Context, order Order) (*Confirmation, error)
}
