package model

import (
	"encoding/json"
	"time"
)

// Row keys a candle contributes to a data source row.
const (
	KeyOpenTime  = "open time"
	KeyCloseTime = "close time"
	KeyOpen      = "open price"
	KeyHigh      = "high price"
	KeyLow       = "low price"
	KeyClose     = "close price"
	KeyVolume    = "volume"
	KeyTrades    = "number of trades"
)

// Candle is a closed OHLC bar in price units, as stored in candle files.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int       `json:"trades"`
}

// Row converts the candle into a data source row. Times are unix seconds.
func (c *Candle) Row() Values {
	row := make(Values, 8)
	row.Set(Path{KeyOpenTime}, float64(c.OpenTime.Unix()))
	row.Set(Path{KeyCloseTime}, float64(c.CloseTime.Unix()))
	row.Set(Path{KeyOpen}, c.Open)
	row.Set(Path{KeyHigh}, c.High)
	row.Set(Path{KeyLow}, c.Low)
	row.Set(Path{KeyClose}, c.Close)
	row.Set(Path{KeyVolume}, c.Volume)
	row.Set(Path{KeyTrades}, float64(c.Trades))
	return row
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
