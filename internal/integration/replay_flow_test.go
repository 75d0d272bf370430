package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/liquidity"
	"spreadbot-go/internal/marketdata"
	"spreadbot-go/internal/reconcile"
	"spreadbot-go/internal/replay"
	"spreadbot-go/internal/signal"
)

const (
	instrA = "DRIFT-PERP"
	instrB = "KMNO-PERP"
)

func newReplayStack(t *testing.T, logSink *bytes.Buffer) (*marketdata.FileSource, *replay.Venue, *engine.Engine) {
	t.Helper()
	src, err := marketdata.NewFileSource(map[string]string{
		instrA: filepath.Join("testdata", "drift_candles.json"),
		instrB: filepath.Join("testdata", "kmno_candles.json"),
	})
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}

	adapter := replay.NewVenue(src, nil)
	log := zerolog.Nop()
	if logSink != nil {
		log = zerolog.New(logSink)
	}
	exec := execution.NewExecutor(adapter, execution.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, log)
	led := ledger.New(instrA, instrB)
	eng := engine.New(
		log, src, adapter,
		liquidity.NewGuard(adapter, log),
		exec, led,
		reconcile.New(adapter, instrA, instrB, log),
		engine.Params{
			InstrumentA:      instrA,
			InstrumentB:      instrB,
			Ratio:            10,
			QtyA:             1,
			QtyB:             10,
			LagBars:          2,
			HistoryBars:      4,
			MaxOpenSlippage:  0.01,
			MaxCloseSlippage: 0.05,
			Pricing:          engine.PricingMarket,
		},
	)
	return src, adapter, eng
}

// The recorded series keeps the spread negative for four bars, then positive:
// with a two-bar lag the run opens long, holds, flips short, and the end of
// data force-closes whatever is left.
func TestReplayRunFlipsAndFlattens(t *testing.T) {
	var buf bytes.Buffer
	src, adapter, eng := newReplayStack(t, &buf)

	out := filepath.Join(t.TempDir(), "fills.jsonl")
	rec, err := replay.NewJSONLRecorder(out)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}
	adapter.SetRecorder(rec)

	ctx := context.Background()
	for src.Advance() {
		if err := eng.RunCycle(ctx); err != nil && !errors.Is(err, signal.ErrInsufficientData) {
			t.Fatalf("RunCycle returned error: %v", err)
		}
	}

	if got := eng.Ledger().State(); got != ledger.ShortSpread {
		t.Fatalf("expected SHORT_SPREAD at end of data, got %s", got)
	}
	positions, err := adapter.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions returned error: %v", err)
	}
	held := map[string]float64{}
	for _, p := range positions {
		held[p.Instrument] = p.Qty
	}
	if held[instrA] != -1 || held[instrB] != 10 {
		t.Fatalf("unexpected venue positions before flatten: %+v", held)
	}

	if err := eng.Flatten(ctx, "end of data"); err != nil {
		t.Fatalf("Flatten returned error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := eng.Ledger().State(); got != ledger.Flat {
		t.Fatalf("expected FLAT after final close, got %s", got)
	}
	positions, err = adapter.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions returned error: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("venue should be flat after final close: %+v", positions)
	}

	// open long (2 fills) + close (2) + open short (2) + flatten (2)
	fills := readFills(t, out)
	if len(fills) != 8 {
		t.Fatalf("expected 8 recorded fills, got %d", len(fills))
	}
	for _, f := range fills {
		if f.Price <= 0 || f.Size <= 0 {
			t.Fatalf("malformed fill: %+v", f)
		}
	}

	for _, event := range []string{"CYCLE_START", "SIGNAL", "OPEN", "CLOSE"} {
		if !strings.Contains(buf.String(), `"event":"`+event+`"`) {
			t.Fatalf("expected %s event in log output", event)
		}
	}
}

// A close leg that exhausts its retries leaves the venue holding one leg; the
// next cycle must refuse to trade and surface the anomaly.
func TestReplayRunSurfacesPartialLeg(t *testing.T) {
	src, adapter, eng := newReplayStack(t, nil)

	ctx := context.Background()
	var sawPartial, sawAnomaly bool
	cursor := 0
	for src.Advance() {
		cursor++
		if cursor == 7 {
			// the flip cycle: leg B's close will fail every attempt
			adapter.FailNext(instrB, 3)
		}
		err := eng.RunCycle(ctx)
		switch {
		case err == nil, errors.Is(err, signal.ErrInsufficientData):
		case errors.Is(err, engine.ErrPartialLeg):
			sawPartial = true
		default:
			var anomaly *reconcile.AnomalyError
			if errors.As(err, &anomaly) {
				sawAnomaly = true
				continue
			}
			t.Fatalf("unexpected cycle error: %v", err)
		}
	}

	if !sawPartial {
		t.Fatalf("expected a partial leg failure on the flip cycle")
	}
	if !sawAnomaly {
		t.Fatalf("expected the following cycle to surface an anomaly")
	}
	// The ledger never guessed: it still shows the last confirmed position.
	if got := eng.Ledger().State(); got != ledger.LongSpread {
		t.Fatalf("ledger must keep its last confirmed state, got %s", got)
	}
}

func readFills(t *testing.T, path string) []replay.Fill {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fills: %v", err)
	}
	defer f.Close()

	var fills []replay.Fill
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fill replay.Fill
		if err := json.Unmarshal(scanner.Bytes(), &fill); err != nil {
			t.Fatalf("decode fill line: %v", err)
		}
		fills = append(fills, fill)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan fills: %v", err)
	}
	return fills
}
