package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"trading-formulas/internal/logger"
	"trading-formulas/internal/model"
	"trading-formulas/internal/parser"
	"trading-formulas/internal/resolver"

	"github.com/gorilla/mux"
)

// Router returns the service's HTTP routes.
func (svc *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/healthz", svc.deps.Health).Methods(http.MethodGet)
	r.Handle("/metrics", svc.deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/reload", svc.handleReload).Methods(http.MethodPost)
	r.HandleFunc("/blocks", svc.handleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{id}", svc.handleBlock).Methods(http.MethodGet)
	r.HandleFunc("/resolve/{id}", svc.handleResolve).Methods(http.MethodGet)
	r.HandleFunc("/ws", svc.hub.ServeWS)
	return r
}

// startHTTP launches the HTTP server in a goroutine.
func (svc *Service) startHTTP() {
	if svc.cfg.HTTPAddr == "" {
		return
	}
	svc.srv = &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.Router()}
	go func() {
		log.Printf("[engine] HTTP server on %s", svc.cfg.HTTPAddr)
		if err := svc.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[engine] HTTP server error: %v", err)
		}
	}()
}

// handleReload handles POST /reload.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := svc.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"status": "rejected",
			"error":  err.Error(),
		})
		return
	}
	svc.mu.RLock()
	body := map[string]interface{}{
		"status":      "ok",
		"blocks":      svc.graph.Len(),
		"diagnostics": diagnosticStrings(svc.diags),
	}
	svc.mu.RUnlock()
	writeJSON(w, http.StatusOK, body)
}

func (svc *Service) handleBlocks(w http.ResponseWriter, r *http.Request) {
	g := svc.Graph()
	if g == nil {
		http.Error(w, "no formulas loaded", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(parser.Render(g)))
}

func (svc *Service) handleBlock(w http.ResponseWriter, r *http.Request) {
	g := svc.Graph()
	if g == nil {
		http.Error(w, "no formulas loaded", http.StatusServiceUnavailable)
		return
	}
	blk, ok := g.Block(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "unknown block", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(parser.RenderBlock(blk)))
}

// handleResolve resolves a block at ?index=N against ?stream=S (default:
// the first stream). The stream's cache is shared, so indices the engine
// already resolved are not recomputed. Without a stream the block resolves
// with no data sources on a fresh cache.
func (svc *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	index := 0
	if s := r.URL.Query().Get("index"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		index = n
	}

	svc.mu.Lock()
	g := svc.graph
	name := r.URL.Query().Get("stream")
	if name == "" && len(svc.order) > 0 {
		name = svc.order[0]
	}
	st, ok := svc.streams[name]
	if !ok && name != "" {
		svc.mu.Unlock()
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}
	sources := map[string]model.DataSource{}
	opts := resolverOptions(svc.cfg)
	if ok && g != nil {
		sources = st.sources()
		opts = append(opts, resolver.WithCache(st.resolver(svc.deps.Metrics).Cache()))
	}
	svc.mu.Unlock()
	if g == nil {
		http.Error(w, "no formulas loaded", http.StatusServiceUnavailable)
		return
	}

	ctx := logger.WithRunID(r.Context(), "")
	res := resolver.New(g, sources, opts...)
	vals, err := res.Resolve(ctx, id, index)
	body := map[string]interface{}{
		"block":  id,
		"stream": name,
		"index":  index,
		"run_id": logger.RunID(ctx),
	}
	code := http.StatusOK
	switch {
	case err == nil:
		body["values"] = vals
	case errors.Is(err, resolver.ErrUnknownBlock):
		code = http.StatusNotFound
		body["error"] = err.Error()
	case errors.Is(err, context.Canceled):
		return
	default:
		code = http.StatusUnprocessableEntity
		body["error"] = err.Error()
		body["fatal"] = resolver.IsHardStop(err)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func diagnosticStrings(ds parser.Diagnostics) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
