package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the resolver and the service from concrete
// storage implementations (memory, JSON files, SQL, Redis).

// DataSource is a host-provided, index-addressable table of rows. It is
// addressed from formulas by its name as the first path segment, e.g.
// Candle.close price reads the "close price" key of the current row.
type DataSource interface {
	// Len returns the number of rows.
	Len() int

	// Row returns a copy of row i, 0 <= i < Len().
	Row(i int) Values

	// WriteRow replaces row i.
	WriteRow(i int, row Values)

	// Commit persists pending edits. Sources without a backing store
	// return false.
	Commit() bool
}

// CandleReader reads TF candles for backfill and replay.
type CandleReader interface {
	// ReadTFCandles reads candles for a specific instrument and TF.
	ReadTFCandles(ctx context.Context, exchange, token string, tf int, afterTS int64) ([]TFCandle, error)

	// Close releases underlying resources.
	Close() error
}

// ResultWriter persists or publishes resolved block results.
type ResultWriter interface {
	// WriteResults writes a batch of results.
	WriteResults(ctx context.Context, results []Result) error

	// Close releases underlying resources.
	Close() error
}

// StreamConsumer consumes TF candles from a stream (e.g. Redis Streams).
type StreamConsumer interface {
	// ConsumeTFCandles reads TF candles via consumer groups.
	// Blocks until ctx is cancelled.
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- TFCandle) error

	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReadStream returns every candle currently held by a stream.
	ReadStream(ctx context.Context, stream string) ([]TFCandle, error)

	// Close releases underlying resources.
	Close() error
}
