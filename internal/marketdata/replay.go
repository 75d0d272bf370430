package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"spreadbot-go/internal/market"
)

// FileSource serves bars from recorded candle files and advances through the
// recorded timeline one bar at a time, so a bounded run sees history grow
// exactly as a live process would have.
type FileSource struct {
	mu     sync.Mutex
	bars   map[string][]market.PriceBar
	cursor int
	length int
}

// NewFileSource loads one candle file per instrument. All series must cover
// the same number of bars after deduplication.
func NewFileSource(paths map[string]string) (*FileSource, error) {
	src := &FileSource{bars: make(map[string][]market.PriceBar, len(paths))}
	for instrument, path := range paths {
		bars, err := loadCandleFile(instrument, path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", instrument, err)
		}
		if src.length == 0 {
			src.length = len(bars)
		} else if len(bars) != src.length {
			return nil, fmt.Errorf("series length mismatch: %s has %d bars, expected %d", instrument, len(bars), src.length)
		}
		src.bars[instrument] = bars
	}
	return src, nil
}

func loadCandleFile(instrument, path string) ([]market.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var payload candlesResponse
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	bars := barsFromCandles(instrument, payload.Candles)
	if len(bars) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	return bars, nil
}

// Advance exposes the next bar of every series. It returns false once the
// recorded timeline is exhausted.
func (s *FileSource) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= s.length {
		return false
	}
	s.cursor++
	return true
}

// Mark returns the newest exposed close price for instrument, used by the
// replay venue to price fills.
func (s *FileSource) Mark(instrument string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars, ok := s.bars[instrument]
	if !ok || s.cursor == 0 {
		return 0, false
	}
	return bars[s.cursor-1].Close, true
}

// RecentBars returns up to count bars ending at the replay cursor, oldest
// first.
func (s *FileSource) RecentBars(_ context.Context, instrument string, count int) ([]market.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars, ok := s.bars[instrument]
	if !ok {
		return nil, fmt.Errorf("no recorded series for %s", instrument)
	}
	end := s.cursor
	start := end - count
	if start < 0 {
		start = 0
	}
	window := bars[start:end]
	out := make([]market.PriceBar, len(window))
	copy(out, window)
	return out, nil
}
