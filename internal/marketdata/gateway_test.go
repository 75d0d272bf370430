package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecentBarsOrdersAndDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("market"); got != "DRIFT-PERP" {
			t.Fatalf("unexpected market %q", got)
		}
		if got := r.URL.Query().Get("resolution"); got != "15" {
			t.Fatalf("unexpected resolution %q", got)
		}
		// Out of order and with a duplicate timestamp.
		w.Write([]byte(`{"candles":[
			{"start":1700001800000,"oracleClose":"1.02"},
			{"start":1700000000000,"oracleClose":"1.00"},
			{"start":1700000900000,"oracleClose":"1.01"},
			{"start":1700000900000,"oracleClose":"9.99"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "15")
	bars, err := client.RecentBars(context.Background(), "DRIFT-PERP", 10)
	if err != nil {
		t.Fatalf("RecentBars returned error: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars after dedupe, got %d", len(bars))
	}
	if bars[0].Close != 1.00 || bars[1].Close != 1.01 || bars[2].Close != 1.02 {
		t.Fatalf("bars not ordered oldest first: %+v", bars)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].Ts.Before(bars[i].Ts) {
			t.Fatalf("timestamps not strictly increasing")
		}
	}
}

func TestRecentBarsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "15")
	if _, err := client.RecentBars(context.Background(), "DRIFT-PERP", 10); err == nil {
		t.Fatalf("expected error on non-success status")
	}
}
