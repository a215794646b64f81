package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"trading-formulas/internal/frames"
	"trading-formulas/internal/logger"
	"trading-formulas/internal/metrics"
	"trading-formulas/internal/model"
	"trading-formulas/internal/resolver"
)

// stream is the frame of one candle stream and the resolution progress of
// every watched block on it.
type stream struct {
	name  string
	cfg   Config
	frame *frames.CandleFrame
	graph *model.Graph
	res   *resolver.Resolver
	next  map[string]int
	last  time.Time // bucket time of the newest row in frame
}

func newStream(name string, cfg Config, g *model.Graph) (*stream, error) {
	frame, err := frames.NewCandleFrame(cfg.Columns...)
	if err != nil {
		return nil, err
	}
	return &stream{name: name, cfg: cfg, frame: frame, graph: g, next: make(map[string]int)}, nil
}

// reset switches to g and restarts every block from index 0.
func (st *stream) reset(g *model.Graph) {
	st.graph = g
	st.res = nil
	st.next = make(map[string]int)
}

// append adds a closed candle to the frame. A candle at or before the newest
// row is a redelivery and is dropped.
func (st *stream) append(tfc model.TFCandle) bool {
	if !st.last.IsZero() && !tfc.TS.After(st.last) {
		return false
	}
	st.frame.AppendCandle(tfc.Candle())
	st.last = tfc.TS
	return true
}

func (st *stream) resolver(m *metrics.Metrics) *resolver.Resolver {
	if st.res == nil {
		st.res = resolver.New(st.graph, st.sources(), append(resolverOptions(st.cfg),
			resolver.WithCacheRetention(st.cfg.CacheRetention),
			resolver.WithMetrics(m),
		)...)
	}
	return st.res
}

func (st *stream) sources() map[string]model.DataSource {
	return map[string]model.DataSource{st.cfg.Source: st.frame}
}

// resolverOptions are the limits shared by stream and ad-hoc resolvers.
func resolverOptions(cfg Config) []resolver.Option {
	opts := []resolver.Option{resolver.WithMaxRetries(cfg.MaxRetries)}
	if cfg.MaxDepth > 0 {
		opts = append(opts, resolver.WithMaxDepth(cfg.MaxDepth))
	}
	return opts
}

// advance resolves each block forward from its next index while rows are
// available. An exhausted frame waits for the next candle; a soft failure
// skips the index.
func (st *stream) advance(ctx context.Context, blocks []string, m *metrics.Metrics) []model.Result {
	if st.graph == nil {
		return nil
	}
	res := st.resolver(m)
	n := st.frame.Len()
	if n == 0 {
		return nil
	}
	ts := time.Unix(int64(openTime(st.frame.Row(n-1))), 0).UTC()

	var out []model.Result
	for _, id := range blocks {
		if !st.graph.Has(id) {
			continue
		}
		for st.next[id] < n {
			if ctx.Err() != nil {
				return out
			}
			idx := st.next[id]
			start := time.Now()
			vals, err := res.Resolve(ctx, id, idx)
			m.ObserveResolve(id, time.Since(start), err)
			if errors.Is(err, resolver.ErrDataExhausted) {
				break
			}
			if err != nil && !errors.Is(err, resolver.ErrUnresolved) {
				log.Printf("[engine] %s on %s: %v", id, st.name, err)
				break
			}
			st.next[id]++
			if err != nil {
				slog.Debug("no result", append(logger.Attrs(ctx), "block", id, "stream", st.name, "index", idx)...)
				continue
			}
			out = append(out, model.Result{
				Block:  id,
				Stream: st.name,
				Index:  idx,
				Values: vals,
				TS:     ts,
				RunID:  logger.RunID(ctx),
			})
		}
	}
	return out
}

func openTime(row model.Values) float64 {
	v, _ := row.Get(model.Path{model.KeyOpenTime})
	return v
}
