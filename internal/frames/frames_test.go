package frames

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trading-formulas/internal/model"
	"trading-formulas/internal/parser"
	"trading-formulas/internal/resolver"
)

func row(kv map[string]float64) model.Values {
	v := model.Values{}
	for k, x := range kv {
		v.Set(model.ParsePath(k), x)
	}
	return v
}

func TestMemoryRowsAreCopies(t *testing.T) {
	m := NewMemory(row(map[string]float64{"a": 1}))
	r := m.Row(0)
	r.Set(model.Path{"a"}, 2)
	if x, _ := m.Row(0).Get(model.Path{"a"}); x != 1 {
		t.Fatalf("Row aliases storage: a = %v", x)
	}
	m.WriteRow(0, r)
	m.WriteRow(5, r)
	if x, _ := m.Row(0).Get(model.Path{"a"}); x != 2 || m.Len() != 1 {
		t.Fatalf("WriteRow: a = %v, len = %d", x, m.Len())
	}
	if m.Commit() {
		t.Errorf("memory without a file should not report a commit")
	}
}

func TestCandleFrameIndicatorColumns(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	var candles []model.Candle
	for i, c := range []float64{100, 102, 104, 103} {
		candles = append(candles, model.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Minute),
			CloseTime: start.Add(time.Duration(i+1) * time.Minute),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
		})
	}
	f, err := FromCandles(candles, "sma 3")
	if err != nil {
		t.Fatalf("FromCandles: %v", err)
	}
	if f.Len() != 4 {
		t.Fatalf("Len = %d", f.Len())
	}
	if _, ok := f.Row(1).Get(model.Path{"sma 3"}); ok {
		t.Errorf("sma 3 should be absent before it is ready")
	}
	if x, ok := f.Row(3).Get(model.Path{"sma 3"}); !ok || x != 103 {
		t.Errorf("sma 3 at row 3 = %v (%v), want 103", x, ok)
	}
	if x, _ := f.Row(0).Get(model.Path{model.KeyOpenTime}); x != float64(start.Unix()) {
		t.Errorf("open time = %v", x)
	}
	if _, err := NewCandleFrame("bogus 3"); err == nil {
		t.Errorf("expected an error for an unknown column")
	}
}

func TestOpenRowsFileCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	if err := os.WriteFile(path, []byte(`[{"close price": 10}, {"close price": 11}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	g, _ := parser.Parse("Mark\n----\nCandle.close price + 1 -> Candle.next\n")
	if _, err := resolver.New(g, map[string]model.DataSource{"Candle": src}).Resolve(context.Background(), "Mark", 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("rewritten file: %v\n%s", err, raw)
	}
	if len(rows) != 2 || rows[0]["next"] != 11 || rows[1]["next"] != 12 {
		t.Errorf("rows = %v", rows)
	}
}

func TestOpenCandleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.json")
	body := `[{"open_time":"2024-01-15T09:15:00Z","close_time":"2024-01-15T09:16:00Z","open":1,"high":2,"low":0.5,"close":1.5,"volume":10,"trades":3}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := Open(path, "ema 1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := src.Row(0)
	if x, _ := r.Get(model.Path{model.KeyClose}); x != 1.5 {
		t.Errorf("close price = %v", x)
	}
	if x, _ := r.Get(model.Path{"ema 1"}); x != 1.5 {
		t.Errorf("ema 1 = %v", x)
	}
	if x, _ := r.Get(model.Path{model.KeyTrades}); x != 3 {
		t.Errorf("number of trades = %v", x)
	}
}
