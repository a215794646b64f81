package frames

import (
	"fmt"

	"trading-formulas/internal/indicator"
	"trading-formulas/internal/model"
)

// CandleFrame is a Memory of candle rows. Each configured indicator adds a
// column computed from the close price, present once the indicator is ready.
type CandleFrame struct {
	*Memory
	columns []indicator.Indicator
}

// NewCandleFrame returns an empty frame with the given indicator columns,
// e.g. "sma 20" or "rsi 14".
func NewCandleFrame(columns ...string) (*CandleFrame, error) {
	f := &CandleFrame{Memory: NewMemory()}
	for _, spec := range columns {
		ind, err := indicator.New(spec)
		if err != nil {
			return nil, fmt.Errorf("frames: %w", err)
		}
		f.columns = append(f.columns, ind)
	}
	return f, nil
}

// FromCandles builds a frame from candles in order.
func FromCandles(candles []model.Candle, columns ...string) (*CandleFrame, error) {
	f, err := NewCandleFrame(columns...)
	if err != nil {
		return nil, err
	}
	for i := range candles {
		f.AppendCandle(candles[i])
	}
	return f, nil
}

// AppendCandle adds c as the next row.
func (f *CandleFrame) AppendCandle(c model.Candle) {
	row := c.Row()
	for _, ind := range f.columns {
		ind.Update(c.Close)
		if ind.Ready() {
			row.Set(model.Path{ind.Name()}, ind.Value())
		}
	}
	f.Append(row)
}

// Columns returns the indicator column names.
func (f *CandleFrame) Columns() []string {
	out := make([]string, len(f.columns))
	for i, ind := range f.columns {
		out[i] = ind.Name()
	}
	return out
}
