package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"trading-formulas/internal/frames"
	"trading-formulas/internal/model"
	redisstore "trading-formulas/internal/store/redis"
	"trading-formulas/internal/store/sqldb"
)

// openSources opens every --source NAME=KIND:TARGET flag. Supported kinds:
//
//	json:PATH                                   candle or row file
//	sqlite:PATH?exchange=E&token=T&tf=S         candles_tf table
//	postgres:DSN?exchange=E&token=T&tf=S        candles_tf table
//	redis:ADDR/STREAM                           candle stream
//
// The returned closers must be closed once resolution is done.
func openSources(ctx context.Context, specs, columns []string) (map[string]model.DataSource, []io.Closer, error) {
	sources := make(map[string]model.DataSource, len(specs))
	var closers []io.Closer
	for _, spec := range specs {
		name, kind, target, err := splitSource(spec)
		if err != nil {
			return nil, closers, err
		}
		if _, dup := sources[name]; dup {
			return nil, closers, fmt.Errorf("source %q given twice", name)
		}
		var ds model.DataSource
		switch kind {
		case "json":
			ds, err = frames.Open(target, columns...)
		case "sqlite":
			ds, err = openSQL(ctx, sqldb.DriverSQLite, target, columns, &closers)
		case "postgres":
			ds, err = openSQL(ctx, sqldb.DriverPostgres, target, columns, &closers)
		case "redis":
			ds, err = openRedis(ctx, target, columns)
		default:
			err = fmt.Errorf("unknown kind %q", kind)
		}
		if err != nil {
			return nil, closers, fmt.Errorf("source %s: %w", name, err)
		}
		sources[name] = ds
	}
	return sources, closers, nil
}

func splitSource(spec string) (name, kind, target string, err error) {
	name, rest, ok := strings.Cut(spec, "=")
	if !ok || name == "" {
		return "", "", "", fmt.Errorf("source %q: want NAME=KIND:TARGET", spec)
	}
	kind, target, ok = strings.Cut(rest, ":")
	if !ok || target == "" {
		return "", "", "", fmt.Errorf("source %q: want NAME=KIND:TARGET", spec)
	}
	return name, kind, target, nil
}

// instrument pulls exchange, token and tf out of a DSN query, returning the
// DSN without them.
func instrument(target string) (dsn, exchange, token string, tf int, err error) {
	dsn, query, _ := strings.Cut(target, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		return "", "", "", 0, err
	}
	exchange, token = q.Get("exchange"), q.Get("token")
	if exchange == "" || token == "" || q.Get("tf") == "" {
		return "", "", "", 0, fmt.Errorf("exchange, token and tf are required")
	}
	if tf, err = strconv.Atoi(q.Get("tf")); err != nil {
		return "", "", "", 0, fmt.Errorf("tf: %w", err)
	}
	q.Del("exchange")
	q.Del("token")
	q.Del("tf")
	if rest := q.Encode(); rest != "" {
		dsn += "?" + rest
	}
	return dsn, exchange, token, tf, nil
}

func openSQL(ctx context.Context, driver, target string, columns []string, closers *[]io.Closer) (model.DataSource, error) {
	dsn, exchange, token, tf, err := instrument(target)
	if err != nil {
		return nil, err
	}
	st, err := sqldb.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, st)
	return st.Frame(ctx, exchange, token, tf, columns...)
}

func openRedis(ctx context.Context, target string, columns []string) (model.DataSource, error) {
	addr, stream, ok := strings.Cut(target, "/")
	if !ok || stream == "" {
		return nil, fmt.Errorf("want ADDR/STREAM, got %q", target)
	}
	client, err := redisstore.Dial(redisstore.Config{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	if err != nil {
		return nil, err
	}
	c := redisstore.NewConsumer(client, "", "")
	defer c.Close()
	tfcs, err := c.ReadStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	candles := make([]model.Candle, len(tfcs))
	for i := range tfcs {
		candles[i] = tfcs[i].Candle()
	}
	return frames.FromCandles(candles, columns...)
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		c.Close()
	}
}
