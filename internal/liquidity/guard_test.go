package liquidity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/market"
	"spreadbot-go/internal/venue"
)

func twoLevelBook() venue.Book {
	return venue.Book{
		Levels:      []venue.BookLevel{{Price: 1.00, Size: 5}, {Price: 1.01, Size: 5}},
		OraclePrice: 1.002,
	}
}

func TestWalkExhaustedBook(t *testing.T) {
	snap := Walk(twoLevelBook(), 12)
	if snap.CanFill {
		t.Fatalf("expected canFill=false for size beyond depth")
	}
	if !math.IsInf(snap.Slippage, 1) {
		t.Fatalf("expected infinite slippage, got %f", snap.Slippage)
	}
}

func TestWalkAverageFillPrice(t *testing.T) {
	snap := Walk(twoLevelBook(), 8)
	if !snap.CanFill {
		t.Fatalf("expected fill within depth")
	}
	want := (5*1.00 + 3*1.01) / 8 // 1.00375
	if math.Abs(snap.AvgFillPrice-want) > 1e-9 {
		t.Fatalf("expected avg fill %.5f, got %.5f", want, snap.AvgFillPrice)
	}
	wantSlip := math.Abs(want-1.00) / 1.00
	if math.Abs(snap.Slippage-wantSlip) > 1e-9 {
		t.Fatalf("expected slippage %.6f, got %.6f", wantSlip, snap.Slippage)
	}
	if snap.BestPrice != 1.00 {
		t.Fatalf("expected best price 1.00, got %f", snap.BestPrice)
	}
	if snap.OraclePrice != 1.002 {
		t.Fatalf("expected oracle price to pass through, got %f", snap.OraclePrice)
	}
}

func TestWalkSingleLevel(t *testing.T) {
	snap := Walk(twoLevelBook(), 5)
	if !snap.CanFill || snap.Slippage != 0 {
		t.Fatalf("full fill at best level should have zero slippage, got %+v", snap)
	}
}

func TestWalkEmptyBook(t *testing.T) {
	snap := Walk(venue.Book{}, 1)
	if snap.CanFill || !math.IsInf(snap.Slippage, 1) {
		t.Fatalf("empty book should reject, got %+v", snap)
	}
}

type erroringVenue struct{}

func (erroringVenue) Subscribe(context.Context) error { return nil }
func (erroringVenue) Unsubscribe() error              { return nil }
func (erroringVenue) Instruments(context.Context) ([]market.Instrument, error) {
	return nil, errors.New("down")
}
func (erroringVenue) Positions(context.Context) ([]venue.PositionEntry, error) {
	return nil, errors.New("down")
}
func (erroringVenue) OrderBook(context.Context, string, venue.Side) (venue.Book, error) {
	return venue.Book{}, errors.New("book read failed")
}
func (erroringVenue) PlaceOrder(context.Context, venue.Order) (*venue.Confirmation, error) {
	return nil, errors.New("down")
}

func TestAssessIOErrorSoftRejects(t *testing.T) {
	guard := NewGuard(erroringVenue{}, zerolog.Nop())
	snap := guard.Assess(context.Background(), "DRIFT-PERP", venue.SideBuy, 1)
	if snap.CanFill || !math.IsInf(snap.Slippage, 1) {
		t.Fatalf("expected soft rejection on I/O error, got %+v", snap)
	}
}
