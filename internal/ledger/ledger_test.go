package ledger

import (
	"testing"
	"time"

	"spreadbot-go/internal/signal"
)

func TestNewLedgerStartsFlat(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	if led.State() != Flat {
		t.Fatalf("expected FLAT, got %s", led.State())
	}
	pos := led.Snapshot()
	if pos.LegA.Qty != 0 || pos.LegB.Qty != 0 {
		t.Fatalf("flat position must have zero legs: %+v", pos)
	}
}

func TestApplyOpenLong(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	err := led.ApplyOpen(
		Leg{Instrument: "DRIFT-PERP", Qty: 1},
		Leg{Instrument: "KMNO-PERP", Qty: -10},
		signal.Long, time.Now(),
	)
	if err != nil {
		t.Fatalf("ApplyOpen returned error: %v", err)
	}
	if led.State() != LongSpread {
		t.Fatalf("expected LONG_SPREAD, got %s", led.State())
	}
	if led.Signal() != signal.Long {
		t.Fatalf("expected LONG signal, got %s", led.Signal())
	}
}

func TestApplyOpenRejectsWrongSigns(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	err := led.ApplyOpen(
		Leg{Instrument: "DRIFT-PERP", Qty: 1},
		Leg{Instrument: "KMNO-PERP", Qty: 10}, // must be short
		signal.Long, time.Now(),
	)
	if err == nil {
		t.Fatalf("expected sign mismatch error")
	}
	if led.State() != Flat {
		t.Fatalf("failed open must not mutate ledger, got %s", led.State())
	}
}

func TestApplyOpenRejectsWhenHeld(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	if err := led.ApplyOpen(Leg{Instrument: "DRIFT-PERP", Qty: 1}, Leg{Instrument: "KMNO-PERP", Qty: -10}, signal.Long, time.Now()); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := led.ApplyOpen(Leg{Instrument: "DRIFT-PERP", Qty: -1}, Leg{Instrument: "KMNO-PERP", Qty: 10}, signal.Short, time.Now()); err == nil {
		t.Fatalf("expected error opening over a held position")
	}
}

func TestApplyOpenRejectsFlatSignal(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	if err := led.ApplyOpen(Leg{Qty: 1}, Leg{Qty: -1}, signal.Flat, time.Now()); err == nil {
		t.Fatalf("expected error for flat open")
	}
}

func TestApplyCloseReturnsToFlat(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	if err := led.ApplyOpen(Leg{Instrument: "DRIFT-PERP", Qty: -1}, Leg{Instrument: "KMNO-PERP", Qty: 10}, signal.Short, time.Now()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	led.ApplyClose()
	if led.State() != Flat {
		t.Fatalf("expected FLAT after close, got %s", led.State())
	}
	pos := led.Snapshot()
	if pos.LegA.Qty != 0 || pos.LegB.Qty != 0 {
		t.Fatalf("closed legs must be zero: %+v", pos)
	}
	if pos.LegA.Instrument != "DRIFT-PERP" || pos.LegB.Instrument != "KMNO-PERP" {
		t.Fatalf("close must keep instrument identities: %+v", pos)
	}
}

func TestOverwriteReplacesPosition(t *testing.T) {
	led := New("DRIFT-PERP", "KMNO-PERP")
	led.Overwrite(Position{
		LegA:   Leg{Instrument: "DRIFT-PERP", Qty: 1},
		LegB:   Leg{Instrument: "KMNO-PERP", Qty: -10},
		Signal: signal.Long,
	})
	if led.State() != LongSpread {
		t.Fatalf("expected overwrite to set LONG_SPREAD, got %s", led.State())
	}
}

func TestStateForSignal(t *testing.T) {
	if StateForSignal(signal.Long) != LongSpread ||
		StateForSignal(signal.Short) != ShortSpread ||
		StateForSignal(signal.Flat) != Flat {
		t.Fatalf("StateForSignal mapping broken")
	}
}
