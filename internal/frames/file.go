package frames

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"trading-formulas/internal/model"
)

// Open loads a JSON data source file. The file holds an array of either
// candles (objects with "open_time") or rows keyed by dotted path. Candle
// files get the given indicator columns. Row files are written back on
// Commit.
func Open(path string, columns ...string) (model.DataSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("frames: read %s: %w", path, err)
	}
	var sample []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, fmt.Errorf("frames: parse %s: %w", path, err)
	}
	if len(sample) > 0 {
		if _, ok := sample[0]["open_time"]; ok {
			var candles []model.Candle
			if err := json.Unmarshal(raw, &candles); err != nil {
				return nil, fmt.Errorf("frames: parse candles %s: %w", path, err)
			}
			return FromCandles(candles, columns...)
		}
	}
	var rows []model.Values
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("frames: parse rows %s: %w", path, err)
	}
	m := NewMemory(rows...)
	m.persist = func(rows []model.Values) error { return writeRows(path, rows) }
	return m, nil
}

// LoadCandles reads a JSON array of candles.
func LoadCandles(path string) ([]model.Candle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("frames: read %s: %w", path, err)
	}
	var candles []model.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("frames: parse candles %s: %w", path, err)
	}
	return candles, nil
}

// writeRows replaces path atomically.
func writeRows(path string, rows []model.Values) error {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frames-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
