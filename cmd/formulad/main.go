// Command formulad resolves formulas continuously against live candle streams.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-formulas/config"
	"trading-formulas/internal/engine"
	"trading-formulas/internal/frames"
	"trading-formulas/internal/logger"
	"trading-formulas/internal/metrics"
	"trading-formulas/internal/model"
	redisstore "trading-formulas/internal/store/redis"
	"trading-formulas/internal/store/sqldb"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[formulad] config: %v", err)
	}
	logger.Init("formulad", logger.ParseLevel(cfg.LogLevel))
	if _, err := frames.NewCandleFrame(cfg.Columns...); err != nil {
		log.Fatalf("[formulad] columns: %v", err)
	}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.RedisAddr != "", cfg.SQLDriver != "")
	deps := engine.Deps{Metrics: prom, Health: health}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Fatalf("[formulad] redis: %v", err)
		}
		health.SetRedisConnected(true)
		deps.Consumer = redisstore.NewConsumer(rdb, cfg.ConsumerGroup, cfg.ConsumerName)

		pub := redisstore.NewPublisher(rdb, redisstore.PublisherConfig{})
		pub.OnBuffer = func(n int) { prom.RedisBufferedWrites.Add(float64(n)) }
		pub.OnStateChange = func(_, to gobreaker.State) { prom.RedisCircuitBreakerState.Set(float64(to)) }
		deps.Sinks = append(deps.Sinks, pub)
	} else {
		log.Println("[formulad] REDIS_ADDR not set, running without candle streams")
	}

	var sqlDB *sqlx.DB
	if cfg.SQLDriver != "" {
		if cfg.SQLDriver == sqldb.DriverSQLite {
			os.MkdirAll("data", 0o755)
		}
		st, err := sqldb.Open(cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			log.Fatalf("[formulad] sql: %v", err)
		}
		sqlDB = st.DB()
		deps.Sinks = append(deps.Sinks, model.ResultWriter(st))
	}

	svc := engine.New(engine.Config{
		FormulaFile:    cfg.FormulaFile,
		Blocks:         cfg.Blocks,
		Source:         cfg.Source,
		Streams:        cfg.Streams,
		Columns:        cfg.Columns,
		FoldCase:       cfg.FoldCase,
		MaxRetries:     cfg.MaxRetries,
		MaxDepth:       cfg.MaxDepth,
		CacheRetention: cfg.CacheRetention,
		ReloadDebounce: cfg.ReloadDebounce,
		HTTPAddr:       cfg.HTTPAddr,
	}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[formulad] fatal: %v", err)
	}
}
