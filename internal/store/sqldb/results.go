package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-formulas/internal/model"
)

type resultRow struct {
	Block  string `db:"block"`
	Stream string `db:"stream"`
	Index  int    `db:"idx"`
	TS     int64  `db:"ts"`
	RunID  string `db:"run_id"`
	Data   string `db:"data"`
}

// WriteResults upserts results keyed by block, stream and index.
func (s *Store) WriteResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
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
		INSERT INTO formula_results (block, stream, idx, ts, run_id, data)
		VALUES (:block, :stream, :idx, :ts, :run_id, :data)
		ON CONFLICT (block, stream, idx) DO UPDATE SET
			ts = excluded.ts, run_id = excluded.run_id, data = excluded.data`
	for _, r := range results {
		data, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("sqldb marshal values: %w", err)
		}
		row := resultRow{Block: r.Block, Stream: r.Stream, Index: r.Index, TS: r.TS.Unix(), RunID: r.RunID, Data: string(data)}
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("sqldb insert result: %w", err)
		}
	}
	return tx.Commit()
}

// ReadResults returns the stored results of block on stream, by index.
func (s *Store) ReadResults(ctx context.Context, block, stream string) ([]model.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT block, stream, idx, ts, run_id, data
		FROM formula_results
		WHERE block = ? AND stream = ?
		ORDER BY idx ASC`), block, stream)
	if err != nil {
		return nil, fmt.Errorf("sqldb query formula_results: %w", err)
	}
	out := make([]model.Result, 0, len(rows))
	for _, r := range rows {
		var vals model.Values
		if err := json.Unmarshal([]byte(r.Data), &vals); err != nil {
			return nil, fmt.Errorf("sqldb decode result %s/%d: %w", r.Block, r.Index, err)
		}
		out = append(out, model.Result{
			Block: r.Block, Stream: r.Stream, Index: r.Index,
			Values: vals, TS: time.Unix(r.TS, 0).UTC(), RunID: r.RunID,
		})
	}
	return out, nil
}

// Compile-time port checks.
var (
	_ model.CandleReader = (*Store)(nil)
	_ model.ResultWriter = (*Store)(nil)
)
