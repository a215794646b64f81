// Package engine runs formulas continuously against live candle streams.
//
// The service keeps one candle frame per stream, resolves every watched block
// forward as candles close, and fans results out to Redis, SQL and WebSocket
// clients. The formula file is watched and reloaded without a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"trading-formulas/internal/logger"
	"trading-formulas/internal/metrics"
	"trading-formulas/internal/model"
	"trading-formulas/internal/parser"
)

// Config holds what the service needs from the process configuration.
type Config struct {
	FormulaFile    string
	Blocks         []string // watched blocks; empty means every block
	Source         string   // data source name the formulas read candles from
	Streams        []string
	Columns        []string
	FoldCase       bool
	MaxRetries     int
	MaxDepth       int // 0 keeps the resolver default
	CacheRetention int
	ReloadDebounce time.Duration
	HTTPAddr       string
}

// Deps are the service's collaborators. Every field is optional.
type Deps struct {
	Consumer model.StreamConsumer
	Sinks    []model.ResultWriter
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Service is the top-level orchestrator for the formula engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg  Config
	deps Deps
	hub  *Hub

	mu      sync.RWMutex
	graph   *model.Graph
	diags   parser.Diagnostics
	streams map[string]*stream
	order   []string // stream names in configuration order

	candleCh chan model.TFCandle
	srv      *http.Server
}

// New creates a service. The formula file is not read until Reload or Run.
func New(cfg Config, deps Deps) *Service {
	if cfg.Source == "" {
		cfg.Source = "Candle"
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus(false, false)
	}
	svc := &Service{
		cfg:      cfg,
		deps:     deps,
		streams:  make(map[string]*stream),
		candleCh: make(chan model.TFCandle, 5000),
	}
	svc.hub = NewHub(deps.Metrics)
	for _, name := range cfg.Streams {
		svc.addStream(name)
	}
	return svc
}

// Hub returns the WebSocket hub.
func (svc *Service) Hub() *Hub { return svc.hub }

// Graph returns the loaded graph, or nil before the first reload.
func (svc *Service) Graph() *model.Graph {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.graph
}

// Run loads the formulas, backfills the streams, then consumes candles until
// ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[engine] starting formula engine...")

	if err := svc.Reload(); err != nil {
		return err
	}

	if svc.deps.Consumer != nil && len(svc.cfg.Streams) > 0 {
		svc.backfill(ctx)
		if err := svc.deps.Consumer.EnsureConsumerGroup(ctx, svc.cfg.Streams); err != nil {
			log.Printf("[engine] WARNING: consumer group setup: %v", err)
		}
		if rp, ok := svc.deps.Consumer.(pendingRecoverer); ok {
			if err := rp.RecoverPending(ctx, svc.cfg.Streams, svc.candleCh); err != nil {
				log.Printf("[engine] pending recovery error: %v", err)
			}
		}
		go func() {
			if err := svc.deps.Consumer.ConsumeTFCandles(ctx, svc.cfg.Streams, svc.candleCh); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[engine] consumer error: %v", err)
			}
		}()
	}

	go svc.processLoop(ctx)
	go svc.hub.Run(ctx)

	w, err := newWatcher(svc.cfg.FormulaFile, svc.cfg.ReloadDebounce, func() {
		if err := svc.Reload(); err != nil {
			log.Printf("[engine] reload failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[engine] WARNING: formula watcher disabled: %v", err)
	} else {
		go w.run(ctx)
	}

	svc.startHTTP()

	log.Printf("[engine] running: %d blocks watched on %d streams, http %s",
		len(svc.watched()), len(svc.order), svc.cfg.HTTPAddr)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

type pendingRecoverer interface {
	RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error
}

// Reload parses the formula file and swaps the graph in. A file with
// error diagnostics is rejected and the current graph stays active.
func (svc *Service) Reload() error {
	f, err := os.Open(svc.cfg.FormulaFile)
	if err != nil {
		svc.deps.Metrics.Reloads.WithLabelValues("error").Inc()
		return fmt.Errorf("open formulas: %w", err)
	}
	defer f.Close()

	g, diags, err := parser.ParseReader(f, parser.WithFoldCase(svc.cfg.FoldCase))
	if err != nil {
		svc.deps.Metrics.Reloads.WithLabelValues("error").Inc()
		return fmt.Errorf("read formulas: %w", err)
	}
	svc.deps.Metrics.Diagnostics.Set(float64(len(diags)))
	for _, d := range diags {
		log.Printf("[engine] %s: %s", svc.cfg.FormulaFile, d)
	}
	if diags.HasErrors() {
		svc.deps.Metrics.Reloads.WithLabelValues("rejected").Inc()
		return fmt.Errorf("formulas rejected: %d diagnostics", len(diags))
	}

	svc.mu.Lock()
	svc.graph = g
	svc.diags = diags
	for _, st := range svc.streams {
		st.reset(g)
	}
	svc.mu.Unlock()

	svc.deps.Metrics.Reloads.WithLabelValues("ok").Inc()
	svc.deps.Metrics.Blocks.Set(float64(g.Len()))
	svc.deps.Health.SetGraph(g.Len())
	log.Printf("[engine] loaded %d blocks from %s", g.Len(), svc.cfg.FormulaFile)

	// catch up on what the new graph can resolve from frames already held
	svc.resolveAll(context.Background())
	return nil
}

// backfill loads every closed candle still held by the streams.
func (svc *Service) backfill(ctx context.Context) {
	total := 0
	for _, name := range svc.cfg.Streams {
		candles, err := svc.deps.Consumer.ReadStream(ctx, name)
		if err != nil {
			log.Printf("[engine] backfill error on %s: %v", name, err)
			continue
		}
		svc.mu.Lock()
		st := svc.streams[name]
		for _, tfc := range candles {
			if st.append(tfc) {
				total++
			}
		}
		svc.mu.Unlock()
	}
	if total > 0 {
		log.Printf("[engine] backfilled %d candles from %d streams", total, len(svc.cfg.Streams))
		svc.resolveAll(ctx)
	} else {
		log.Println("[engine] no candles in streams to backfill from")
	}
}

// processLoop appends closed candles to their stream and resolves forward.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.candleCh:
			if !ok {
				return
			}
			svc.HandleCandle(ctx, tfc)
		}
	}
}

// HandleCandle appends a closed candle to the stream it belongs to and
// publishes every result that becomes resolvable. Forming candles and
// candles the stream already holds are ignored.
func (svc *Service) HandleCandle(ctx context.Context, tfc model.TFCandle) {
	if tfc.Forming {
		return
	}
	name := tfc.StreamKey()
	svc.mu.Lock()
	st, ok := svc.streams[name]
	if !ok {
		st = svc.addStream(name)
	}
	fresh := st.append(tfc)
	svc.mu.Unlock()
	if !fresh {
		log.Printf("[engine] %s: dropped candle at %s, already held", name, tfc.TS.Format(time.RFC3339))
		return
	}

	svc.deps.Metrics.CandlesTotal.WithLabelValues(name).Inc()
	svc.deps.Health.SetLastCandleTime(tfc.TS)
	svc.resolveStream(ctx, name)
}

func (svc *Service) resolveAll(ctx context.Context) {
	svc.mu.RLock()
	names := append([]string(nil), svc.order...)
	svc.mu.RUnlock()
	for _, name := range names {
		svc.resolveStream(ctx, name)
	}
}

func (svc *Service) resolveStream(ctx context.Context, name string) {
	svc.mu.Lock()
	st := svc.streams[name]
	var results []model.Result
	if st != nil && svc.graph != nil {
		ctx = logger.WithRunID(ctx, "")
		results = st.advance(ctx, svc.watched(), svc.deps.Metrics)
	}
	svc.mu.Unlock()
	svc.publish(ctx, results)
}

func (svc *Service) publish(ctx context.Context, results []model.Result) {
	if len(results) == 0 {
		return
	}
	for _, sink := range svc.deps.Sinks {
		if err := sink.WriteResults(ctx, results); err != nil {
			log.Printf("[engine] result sink error: %v", err)
		}
	}
	for i := range results {
		svc.hub.Broadcast(&results[i])
	}
}

// watched returns the blocks resolved on every candle. Callers hold mu.
func (svc *Service) watched() []string {
	if len(svc.cfg.Blocks) > 0 {
		return svc.cfg.Blocks
	}
	if svc.graph == nil {
		return nil
	}
	return svc.graph.IDs()
}

// addStream registers a stream. Callers hold mu, except during New.
func (svc *Service) addStream(name string) *stream {
	st, err := newStream(name, svc.cfg, svc.graph)
	if err != nil {
		// columns are validated by the entry point; fall back to raw candles
		log.Printf("[engine] stream %s: %v", name, err)
		st, _ = newStream(name, Config{Source: svc.cfg.Source, MaxRetries: svc.cfg.MaxRetries, MaxDepth: svc.cfg.MaxDepth}, svc.graph)
	}
	svc.streams[name] = st
	svc.order = append(svc.order, name)
	return st
}

// shutdown stops HTTP and closes the collaborators.
func (svc *Service) shutdown() {
	log.Println("[engine] shutdown signal received...")
	if svc.srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		svc.srv.Shutdown(shutCtx)
		cancel()
	}
	for _, sink := range svc.deps.Sinks {
		sink.Close()
	}
	if svc.deps.Consumer != nil {
		svc.deps.Consumer.Close()
	}
	log.Println("[engine] shutdown complete.")
}
