// Package marketdata supplies recent price bars per instrument, either from
// the venue's candle API or from recorded files for bounded replay runs.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"spreadbot-go/internal/market"
)

// Gateway hands back the most recent count bars for an instrument, ordered
// oldest to newest.
type Gateway interface {
	RecentBars(ctx context.Context, instrument string, count int) ([]market.PriceBar, error)
}

// Client fetches candles from the gateway's HTTP API.
type Client struct {
	Base       string
	Resolution string
	Http       *http.Client
}

// NewClient builds a candle API client. Resolution is the bar size the venue
// understands, e.g. "15" for 15-minute bars.
func NewClient(base, resolution string) *Client {
	return &Client{
		Base:       base,
		Resolution: resolution,
		Http:       &http.Client{Timeout: 10 * time.Second},
	}
}

type candlesResponse struct {
	Candles []candle `json:"candles"`
}

type candle struct {
	Start       json.Number `json:"start"` // ms since epoch
	OracleClose json.Number `json:"oracleClose"`
}

// RecentBars fetches up to count bars for instrument, oldest first.
// Duplicate timestamps are dropped, keeping the first occurrence.
func (c *Client) RecentBars(ctx context.Context, instrument string, count int) ([]market.PriceBar, error) {
	q := url.Values{}
	q.Set("market", instrument)
	q.Set("resolution", c.Resolution)
	q.Set("limit", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/v1/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candles status %d for %s", resp.StatusCode, instrument)
	}

	var payload candlesResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	return barsFromCandles(instrument, payload.Candles), nil
}

func barsFromCandles(instrument string, candles []candle) []market.PriceBar {
	bars := make([]market.PriceBar, 0, len(candles))
	seen := make(map[int64]struct{}, len(candles))
	for _, cd := range candles {
		startMs, err := cd.Start.Int64()
		if err != nil {
			continue
		}
		if _, dup := seen[startMs]; dup {
			continue
		}
		px, err := cd.OracleClose.Float64()
		if err != nil {
			continue
		}
		seen[startMs] = struct{}{}
		bars = append(bars, market.PriceBar{
			Instrument: instrument,
			Ts:         time.UnixMilli(startMs).UTC(),
			Close:      px,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars
}
