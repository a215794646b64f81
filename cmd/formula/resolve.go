package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"trading-formulas/internal/logger"
	"trading-formulas/internal/model"
	"trading-formulas/internal/resolver"
	"trading-formulas/internal/store/sqldb"

	"github.com/spf13/cobra"
)

// runFlags are shared by resolve and backtest.
type runFlags struct {
	block      string
	sources    []string
	columns    []string
	maxRetries int
	maxDepth   int
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.block, "block", "b", "", "block to resolve")
	cmd.Flags().StringArrayVarP(&f.sources, "source", "s", nil, "data source NAME=KIND:TARGET (repeatable)")
	cmd.Flags().StringArrayVar(&f.columns, "column", nil, `indicator column added to candle sources, e.g. "sma 20" (repeatable)`)
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", resolver.DefaultMaxRetries, "failing passes allowed per index (0 = unlimited)")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", resolver.DefaultMaxDepth, "block nesting limit")
	cmd.MarkFlagRequired("block")
}

// session is a parsed graph, its open sources and a resolver over them.
type session struct {
	res     *resolver.Resolver
	sources map[string]model.DataSource
	log     *slog.Logger
	close   func()
}

func (f *runFlags) open(ctx context.Context, cmd *cobra.Command, path string) (*session, error) {
	level, _ := cmd.Flags().GetString("log-level")
	lg := logger.InitWriter(cmd.ErrOrStderr(), "formula", logger.ParseLevel(level))

	g, _, err := loadGraph(cmd, path, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if !g.Has(f.block) {
		return nil, fmt.Errorf("%w: %q", resolver.ErrUnknownBlock, f.block)
	}
	sources, closers, err := openSources(ctx, f.sources, f.columns)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	res := resolver.New(g, sources,
		resolver.WithMaxRetries(f.maxRetries),
		resolver.WithMaxDepth(f.maxDepth),
		resolver.WithLogger(lg),
	)
	return &session{res: res, sources: sources, log: lg, close: func() { closeAll(closers) }}, nil
}

// classify maps resolver failures onto exit codes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resolver.ErrDataExhausted):
		return &exitError{code: exitFatal, err: err}
	case errors.Is(err, resolver.ErrUnresolved):
		return &exitError{code: exitSoft, err: err}
	}
	return err
}

func newResolveCmd() *cobra.Command {
	var (
		f     runFlags
		index int
	)
	cmd := &cobra.Command{
		Use:   "resolve FILE",
		Short: "Resolve one block at one index and print its values as JSON",
		Example: `  formula resolve strategy.txt --block "First Bull" --index 3 \
    --source Candle=json:data/nifty-1m.json --column "sma 20"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.WithRunID(cmd.Context(), "")
			s, err := f.open(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			start := time.Now()
			vals, err := s.res.Resolve(ctx, f.block, index)
			s.log.Info("resolved", append(logger.Attrs(ctx),
				"block", f.block, "index", index, "took", time.Since(start).String(), "ok", err == nil)...)
			if err != nil {
				return classify(err)
			}
			return printJSON(cmd.OutOrStdout(), vals, true)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&index, "index", "i", 0, "index to resolve")
	return cmd
}

func newBacktestCmd() *cobra.Command {
	var (
		f         runFlags
		limit     int
		stream    string
		sqlDriver string
		sqlDSN    string
	)
	cmd := &cobra.Command{
		Use:   "backtest FILE",
		Short: "Resolve a block at every index until the data runs out",
		Long: `Resolve a block at indices 0, 1, 2, ... and print one JSON line per result.
Indices without a result are skipped. The run stops when a data source is
exhausted, after --limit indices, or after as many indices as the longest
source has rows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.WithRunID(cmd.Context(), "")
			s, err := f.open(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			var sink model.ResultWriter
			if sqlDriver != "" {
				st, err := sqldb.Open(sqlDriver, sqlDSN)
				if err != nil {
					return err
				}
				defer st.Close()
				sink = st
			}

			n := limit
			if n <= 0 {
				n = longest(s.sources)
			}
			var results []model.Result
			for i := 0; i < n; i++ {
				vals, err := s.res.Resolve(ctx, f.block, i)
				if errors.Is(err, resolver.ErrDataExhausted) {
					break
				}
				if err != nil && !errors.Is(err, resolver.ErrUnresolved) {
					return err
				}
				if err != nil {
					continue
				}
				r := model.Result{Block: f.block, Stream: stream, Index: i, Values: vals, TS: time.Now().UTC(), RunID: logger.RunID(ctx)}
				if err := printJSON(cmd.OutOrStdout(), map[string]interface{}{"index": i, "values": vals}, false); err != nil {
					return err
				}
				results = append(results, r)
			}
			s.log.Info("backtest done", append(logger.Attrs(ctx), "block", f.block, "results", len(results))...)
			if sink != nil && len(results) > 0 {
				return sink.WriteResults(ctx, results)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of indices (0 = longest source)")
	cmd.Flags().StringVar(&stream, "stream", "backtest", "stream name recorded with stored results")
	cmd.Flags().StringVar(&sqlDriver, "sql-driver", "", "store results with this driver (sqlite3 or postgres)")
	cmd.Flags().StringVar(&sqlDSN, "sql-dsn", "data/formulas.db", "result database")
	return cmd
}

// longest returns the row count of the largest source, or 1 without sources.
func longest(sources map[string]model.DataSource) int {
	n := 1
	for _, ds := range sources {
		if ds.Len() > n {
			n = ds.Len()
		}
	}
	return n
}

func printJSON(w io.Writer, v interface{}, indent bool) error {
	var (
		b   []byte
		err error
	)
	if indent {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
