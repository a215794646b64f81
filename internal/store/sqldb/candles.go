package sqldb

import (
	"context"
	"fmt"
	"time"

	"trading-formulas/internal/frames"
	"trading-formulas/internal/model"
)

// tfRow is the candles_tf row layout.
type tfRow struct {
	Token    string `db:"token"`
	Exchange string `db:"exchange"`
	TF       int    `db:"tf"`
	TS       int64  `db:"ts"`
	Open     int64  `db:"open"`
	High     int64  `db:"high"`
	Low      int64  `db:"low"`
	Close    int64  `db:"close"`
	Volume   int64  `db:"volume"`
	Count    int    `db:"count"`
}

func (r tfRow) candle() model.TFCandle {
	return model.TFCandle{
		Token: r.Token, Exchange: r.Exchange, TF: r.TF,
		TS:   time.Unix(r.TS, 0).UTC(),
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
		Volume: r.Volume, Count: r.Count,
	}
}

// ReadTFCandles reads TF candles for exchange:token after afterTS (unix
// seconds), oldest first.
func (s *Store) ReadTFCandles(ctx context.Context, exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []tfRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT token, exchange, tf, ts, open, high, low, close, volume, count
		FROM candles_tf
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC`), exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqldb query candles_tf: %w", err)
	}
	out := make([]model.TFCandle, len(rows))
	for i, r := range rows {
		out[i] = r.candle()
	}
	return out, nil
}

// WriteTFCandles upserts candles in one transaction.
func (s *Store) WriteTFCandles(ctx context.Context, candles []model.TFCandle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb begin: %w", err)
	}
	defer tx.Rollback()

	q := `
		INSERT INTO candles_tf (token, exchange, tf, ts, open, high, low, close, volume, count)
		VALUES (:token, :exchange, :tf, :ts, :open, :high, :low, :close, :volume, :count)
		ON CONFLICT (exchange, token, tf, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, count = excluded.count`
	for _, c := range candles {
		row := tfRow{
			Token: c.Token, Exchange: c.Exchange, TF: c.TF, TS: c.TS.Unix(),
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, Count: c.Count,
		}
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("sqldb insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// Frame loads every candle of exchange:token at tf into a candle frame.
func (s *Store) Frame(ctx context.Context, exchange, token string, tf int, columns ...string) (*frames.CandleFrame, error) {
	tfcs, err := s.ReadTFCandles(ctx, exchange, token, tf, -1)
	if err != nil {
		return nil, err
	}
	candles := make([]model.Candle, len(tfcs))
	for i := range tfcs {
		candles[i] = tfcs[i].Candle()
	}
	return frames.FromCandles(candles, columns...)
}
