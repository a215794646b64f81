// Package resolver evaluates formula blocks against a graph and a set of
// host data sources.
//
// A block is resolved index by index, from the last cached index (or 0) up
// to the requested one. Rules run in dependency order; self-referential
// rules hold their previous value until a failing pass proves they must
// advance. Reading a nested block or a data source without an explicit
// Index creates a virtual rule that steps that index once per pass.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"trading-formulas/internal/model"
)

const (
	// DefaultMaxRetries bounds failing passes per invocation.
	DefaultMaxRetries = 1 << 20

	// DefaultMaxDepth bounds block nesting.
	DefaultMaxDepth = 64
)

// Recorder receives resolver events. metrics.Metrics implements it.
type Recorder interface {
	Retry(block string)
	CacheHit(block string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxRetries sets the failing-pass limit per invocation. 0 disables it.
func WithMaxRetries(n int) Option {
	return func(r *Resolver) { r.maxRetries = n }
}

// WithMaxDepth sets the nesting limit. Deeper reads fail softly.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) { r.maxDepth = n }
}

// WithCache shares a cache between resolvers over the same graph and data.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger used for retry and commit events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithMetrics reports retries and cache hits to rec.
func WithMetrics(rec Recorder) Option {
	return func(r *Resolver) { r.rec = rec }
}

// WithCacheRetention bounds the indices kept per context when the resolver
// creates its own cache.
func WithCacheRetention(n int) Option {
	return func(r *Resolver) { r.retention = n }
}

// Resolver resolves blocks of one graph. Calls are serialized; the cache
// persists across calls until Reset.
type Resolver struct {
	mu         sync.Mutex
	graph      *model.Graph
	sources    map[string]model.DataSource
	cache      *Cache
	log        *slog.Logger
	rec        Recorder
	maxRetries int
	maxDepth   int
	retention  int
}

// New returns a resolver over g. sources are addressed by name as the first
// segment of a path.
func New(g *model.Graph, sources map[string]model.DataSource, opts ...Option) *Resolver {
	r := &Resolver{
		graph:      g,
		sources:    sources,
		log:        slog.Default(),
		maxRetries: DefaultMaxRetries,
		maxDepth:   DefaultMaxDepth,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = NewCache(r.retention)
	}
	if r.sources == nil {
		r.sources = map[string]model.DataSource{}
	}
	return r
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Graph returns the graph being resolved.
func (r *Resolver) Graph() *model.Graph { return r.graph }

// Reset forgets every cached index.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Reset()
}

// Resolve resolves blockID at index.
func (r *Resolver) Resolve(ctx context.Context, blockID string, index int) (model.Values, error) {
	in := model.Values{}
	in.Set(model.Path{model.IndexSegment}, float64(index))
	return r.ResolveWith(ctx, blockID, in)
}

// ResolveWith resolves blockID with inputs preset. An Index entry in inputs
// selects the index; without one the block resolves at 0 and is not
// resumed from the cache.
//
// The error wraps ErrUnresolved for soft failures and ErrDataExhausted when
// a data source ran out of rows.
func (r *Resolver) ResolveWith(ctx context.Context, blockID string, inputs model.Values) (model.Values, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.graph.Has(blockID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, blockID)
	}
	rs := &resolution{r: r, ctx: ctx, written: make(map[string]bool)}
	sc := &scope{values: inputs.Clone()}
	out, err := rs.resolveBlock(blockID, sc, 0)
	if err != nil {
		if errors.Is(err, ErrDataExhausted) {
			r.log.Warn("hard stop", "block", blockID, "err", err)
		}
		return nil, fmt.Errorf("resolve %s: %w", blockID, err)
	}
	for name := range rs.written {
		if !r.sources[name].Commit() {
			r.log.Debug("data source edits not persisted", "source", name)
		}
	}
	return out, nil
}

// resolution is the state of one top-level call.
type resolution struct {
	r       *Resolver
	ctx     context.Context
	written map[string]bool
}

func (rs *resolution) resolveBlock(id string, sc *scope, depth int) (model.Values, error) {
	blk, ok := rs.r.graph.Block(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, id)
	}
	return newInvocation(rs, blk, sc, depth).run()
}

func (rs *resolution) isBlock(seg string) bool {
	return rs.r.graph.Has(model.Path{seg}.StripExclusion().First())
}

func (rs *resolution) isSource(seg string) bool {
	_, ok := rs.r.sources[model.Path{seg}.StripExclusion().First()]
	return ok
}

func (rs *resolution) retry(block string) {
	if rs.r.rec != nil {
		rs.r.rec.Retry(block)
	}
}

func (rs *resolution) cacheHit(block string) {
	if rs.r.rec != nil {
		rs.r.rec.CacheHit(block)
	}
}

// linkedKey returns the prefix of p ending at the first segment accepted by
// has, or nil.
func linkedKey(p model.Path, has func(string) bool) model.Path {
	for i, seg := range p {
		if has(seg) {
			return p[:i+1]
		}
	}
	return nil
}
