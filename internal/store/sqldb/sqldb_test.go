package sqldb

import (
	"context"
	"testing"
	"time"

	"trading-formulas/internal/model"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tfCandles(start time.Time, closes ...int64) []model.TFCandle {
	out := make([]model.TFCandle, len(closes))
	for i, c := range closes {
		out[i] = model.TFCandle{
			Token: "99926000", Exchange: "NSE", TF: 60,
			TS:   start.Add(time.Duration(i) * time.Minute),
			Open: c - 10, High: c + 10, Low: c - 20, Close: c,
			Volume: 100, Count: 60,
		}
	}
	return out
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCandlesRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

	if err := s.WriteTFCandles(ctx, tfCandles(start, 2200000, 2201000, 2202000)); err != nil {
		t.Fatalf("WriteTFCandles: %v", err)
	}
	// Rewriting a bucket replaces it.
	if err := s.WriteTFCandles(ctx, tfCandles(start, 2199000)); err != nil {
		t.Fatalf("WriteTFCandles: %v", err)
	}

	got, err := s.ReadTFCandles(ctx, "NSE", "99926000", 60, 0)
	if err != nil {
		t.Fatalf("ReadTFCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candles, want 3", len(got))
	}
	if got[0].Close != 2199000 || !got[0].TS.Equal(start) {
		t.Errorf("first candle = %+v", got[0])
	}

	after, err := s.ReadTFCandles(ctx, "NSE", "99926000", 60, start.Unix())
	if err != nil {
		t.Fatalf("ReadTFCandles after: %v", err)
	}
	if len(after) != 2 {
		t.Errorf("after filter: got %d candles, want 2", len(after))
	}

	f, err := s.Frame(ctx, "NSE", "99926000", 60, "sma 2")
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Len() != 3 {
		t.Fatalf("frame len = %d", f.Len())
	}
	if x, _ := f.Row(1).Get(model.Path{model.KeyClose}); x != 22010 {
		t.Errorf("close price = %v, want 22010", x)
	}
	if x, ok := f.Row(2).Get(model.Path{"sma 2"}); !ok || x != 22015 {
		t.Errorf("sma 2 = %v (%v), want 22015", x, ok)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	vals := model.Values{}
	vals.Set(model.ParsePath("Candle.close price"), 22010)
	vals.Set(model.Path{"Close"}, 22010)

	res := []model.Result{
		{Block: "Walk", Stream: "candle:60s:NSE:99926000", Index: 0, Values: vals, TS: time.Unix(1705310100, 0), RunID: "r1"},
		{Block: "Walk", Stream: "candle:60s:NSE:99926000", Index: 1, Values: vals, TS: time.Unix(1705310160, 0), RunID: "r1"},
	}
	if err := s.WriteResults(ctx, res); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	res[1].RunID = "r2"
	if err := s.WriteResults(ctx, res[1:]); err != nil {
		t.Fatalf("WriteResults again: %v", err)
	}

	got, err := s.ReadResults(ctx, "Walk", "candle:60s:NSE:99926000")
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[1].RunID != "r2" || got[1].Index != 1 {
		t.Errorf("upsert lost: %+v", got[1])
	}
	if !got[0].Values.Equal(vals) {
		t.Errorf("values = %v, want %v", got[0].Values, vals)
	}
}
