package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-formulas/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
)

const (
	resultMaxLen     = 10000
	defaultLatestTTL = 30 * time.Minute
	defaultMaxBuffer = 10000
)

// PublisherConfig tunes the circuit breaker and the local buffer.
type PublisherConfig struct {
	MaxFailures  uint32        // consecutive failures before the breaker opens (default 5)
	ResetTimeout time.Duration // open duration before a trial request (default 10s)
	MaxBuffer    int           // results kept while Redis is unreachable (default 10000)
}

// Publisher writes formula results to Redis: XADD to the result stream,
// SET latest and PUBLISH for live subscribers, all in one pipeline. Writes
// go through a circuit breaker; while it is open results are buffered and
// flushed with the next successful write.
type Publisher struct {
	client *goredis.Client
	cb     *gobreaker.CircuitBreaker

	mu     sync.Mutex
	buffer []model.Result
	maxBuf int

	// OnBuffer is called with the number of results buffered by a failed write.
	OnBuffer func(n int)
	// OnStateChange is called on breaker transitions.
	OnStateChange func(from, to gobreaker.State)
}

var _ model.ResultWriter = (*Publisher)(nil)

// NewPublisher wraps client.
func NewPublisher(client *goredis.Client, cfg PublisherConfig) *Publisher {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	p := &Publisher{client: client, maxBuf: cfg.MaxBuffer}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-publisher",
		Timeout: cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[redis-publisher] circuit %s -> %s", from, to)
			if p.OnStateChange != nil {
				p.OnStateChange(from, to)
			}
		},
	})
	return p
}

// State returns the breaker state.
func (p *Publisher) State() gobreaker.State { return p.cb.State() }

// Buffered returns the number of results waiting for Redis.
func (p *Publisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// WriteResults publishes any buffered results followed by results. When
// the breaker is open the batch is buffered and no error is returned.
func (p *Publisher) WriteResults(ctx context.Context, results []model.Result) error {
	p.mu.Lock()
	batch := append(p.buffer, results...)
	p.buffer = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.write(ctx, batch)
	})
	if err == nil {
		return nil
	}
	p.keep(batch)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil
	}
	return err
}

func (p *Publisher) write(ctx context.Context, results []model.Result) error {
	pipe := p.client.Pipeline()
	for i := range results {
		r := &results[i]
		data := string(r.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: r.StreamKey(),
			MaxLen: resultMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, r.LatestKey(), data, defaultLatestTTL)
		pipe.Publish(ctx, r.PubSubChannel(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis result pipeline (%d results): %w", len(results), err)
	}
	return nil
}

// keep buffers batch ahead of anything written meanwhile, dropping the
// oldest results beyond the limit.
func (p *Publisher) keep(batch []model.Result) {
	p.mu.Lock()
	p.buffer = append(batch, p.buffer...)
	if over := len(p.buffer) - p.maxBuf; over > 0 {
		p.buffer = p.buffer[over:]
	}
	n := len(batch)
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer(n)
	}
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
