package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/analysis/internal/api"
	"example.com/analysis/internal/auth"
	"example.com/analysis/internal/cache"
	"example.com/analysis/internal/catalog"
	"example.com/analysis/internal/config"
	"example.com/analysis/internal/engine"
	"example.com/analysis/internal/locks"
	"example.com/analysis/internal/notification"
	"example.com/analysis/internal/persistence/postgres"
	httptransport "example.com/analysis/internal/transport/http"
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

	days := postgres.NewDayActivityRepository(pool)
	weeks := postgres.NewWeekActivityRepository(pool)

	eng := engine.NewService(engine.Dependencies{
		Catalog:  catalog.NewPostgresCatalog(pool),
		Cache:    lastActivityCache,
		Users:    postgres.NewUserAnonymizedRepository(pool),
		Days:     days,
		Weeks:    weeks,
		Notifier: notifier,
		Locks:    locks.NewAdvisoryPool(pool),
	}, engine.Config{
		ConflictInterval: cfg.ConflictInterval,
		UpdateSkipWindow: cfg.UpdateSkipWindow,
		LockTimeout:      cfg.LockAcquireTimeout,
	})

	handler := api.NewHandler(eng, days, weeks, api.WithDefaultPageLimit(cfg.ListPageLimit))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		},
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("analysis-engine api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
