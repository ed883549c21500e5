package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/analysis/internal/cache"
	"example.com/analysis/internal/catalog"
	"example.com/analysis/internal/config"
	"example.com/analysis/internal/consumer"
	"example.com/analysis/internal/engine"
	"example.com/analysis/internal/locks"
	"example.com/analysis/internal/notification"
	"example.com/analysis/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	var lastActivityCache cache.LastActivityCache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		lastActivityCache = redisCache
	} else {
		log.Printf("REDIS_ADDR not set, using in-process last-activity cache")
		lastActivityCache = cache.NewInMemoryCache()
	}

	sender := notification.NewKafkaSender(cfg.KafkaBrokers, cfg.ConflictTopic)
	defer sender.Close()
	notifier := notification.NewNotifier(sender)

	eng := engine.NewService(engine.Dependencies{
		Catalog:  catalog.NewPostgresCatalog(pool),
		Cache:    lastActivityCache,
		Users:    postgres.NewUserAnonymizedRepository(pool),
		Days:     postgres.NewDayActivityRepository(pool),
		Weeks:    postgres.NewWeekActivityRepository(pool),
		Notifier: notifier,
		Locks:    locks.NewAdvisoryPool(pool),
	}, engine.Config{
		ConflictInterval: cfg.ConflictInterval,
		UpdateSkipWindow: cfg.UpdateSkipWindow,
		LockTimeout:      cfg.LockAcquireTimeout,
	})

	handler := consumer.NewAnalysisHandler(eng, nil)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.KafkaGroupID,
		Topic:           cfg.NetworkEventsTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler)

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("consumer started (topic=%s, group=%s)", cfg.NetworkEventsTopic, cfg.KafkaGroupID)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("consumer stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}
