package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCandles(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write candle file: %v", err)
	}
	return path
}

func TestFileSourceAdvancesTimeline(t *testing.T) {
	pathA := writeCandles(t, "a.json", `{"candles":[
		{"start":1700000000000,"oracleClose":"1.00"},
		{"start":1700000900000,"oracleClose":"1.10"},
		{"start":1700001800000,"oracleClose":"1.20"}
	]}`)
	pathB := writeCandles(t, "b.json", `{"candles":[
		{"start":1700000000000,"oracleClose":"0.10"},
		{"start":1700000900000,"oracleClose":"0.11"},
		{"start":1700001800000,"oracleClose":"0.12"}
	]}`)

	src, err := NewFileSource(map[string]string{"DRIFT-PERP": pathA, "KMNO-PERP": pathB})
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}

	bars, err := src.RecentBars(context.Background(), "DRIFT-PERP", 10)
	if err != nil {
		t.Fatalf("RecentBars returned error: %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("expected no bars before first advance, got %d", len(bars))
	}

	steps := 0
	for src.Advance() {
		steps++
	}
	if steps != 3 {
		t.Fatalf("expected 3 steps, got %d", steps)
	}

	bars, err = src.RecentBars(context.Background(), "DRIFT-PERP", 2)
	if err != nil {
		t.Fatalf("RecentBars returned error: %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 1.20 {
		t.Fatalf("expected trailing window ending at 1.20, got %+v", bars)
	}

	mark, ok := src.Mark("KMNO-PERP")
	if !ok || mark != 0.12 {
		t.Fatalf("expected mark 0.12, got %f ok=%v", mark, ok)
	}
}

func TestFileSourceLengthMismatch(t *testing.T) {
	pathA := writeCandles(t, "a.json", `{"candles":[{"start":1700000000000,"oracleClose":"1.00"}]}`)
	pathB := writeCandles(t, "b.json", `{"candles":[
		{"start":1700000000000,"oracleClose":"0.10"},
		{"start":1700000900000,"oracleClose":"0.11"}
	]}`)

	if _, err := NewFileSource(map[string]string{"A": pathA, "B": pathB}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}
