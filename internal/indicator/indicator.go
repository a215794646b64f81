// Package indicator provides streaming technical indicators over a price
// series. They are used to add derived columns to candle rows.
package indicator

import (
	"fmt"
	"strconv"
	"strings"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the column name (e.g., "sma 20", "ema 9").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// New builds an indicator from a column spec such as "sma 20", "ema 9",
// "smma 7" or "rsi 14".
func New(spec string) (Indicator, error) {
	fields := strings.Fields(strings.ToLower(spec))
	if len(fields) != 2 {
		return nil, fmt.Errorf("indicator %q: want \"<type> <period>\"", spec)
	}
	period, err := strconv.Atoi(fields[1])
	if err != nil || period < 1 {
		return nil, fmt.Errorf("indicator %q: bad period", spec)
	}
	switch fields[0] {
	case "sma":
		return NewSMA(period), nil
	case "ema":
		return NewEMA(period), nil
	case "smma":
		return NewSMMA(period), nil
	case "rsi":
		return NewRSI(period), nil
	}
	return nil, fmt.Errorf("indicator %q: unknown type %q", spec, fields[0])
}

func name(kind string, period int) string {
	return kind + " " + strconv.Itoa(period)
}
