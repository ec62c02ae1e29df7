package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/application"
	"github.com/roomly/matchtalk/internal/bridge"
	"github.com/roomly/matchtalk/internal/cache"
	"github.com/roomly/matchtalk/internal/config"
	"github.com/roomly/matchtalk/internal/kafka"
	"github.com/roomly/matchtalk/internal/observability"
	"github.com/roomly/matchtalk/internal/outbox"
	"github.com/roomly/matchtalk/internal/repository/postgres"
	"github.com/roomly/matchtalk/internal/router"
	"github.com/roomly/matchtalk/internal/subscription"
	httptransport "github.com/roomly/matchtalk/internal/transport/http"
	"github.com/roomly/matchtalk/internal/transport/ws"
	"github.com/roomly/matchtalk/internal/tx"
)

func main() {
	cfg := config.Load()

	// Observability
	observability.InitLogger(cfg.ServiceName)
	log := observability.Log

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Error("failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close()

	// HTTP server for observability (metrics & health)
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(db))

	go func() {
		log.Info("observability server started", zap.String("addr", cfg.ObsHTTPAddr))
		if err := http.ListenAndServe(cfg.ObsHTTPAddr, mux); err != nil {
			log.Error("observability server failed", zap.Error(err))
		}
	}()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repo := &postgres.Repository{DB: db}
	txMgr := &tx.Manager{DB: db}
	localCache := cache.New()
	hub := subscription.NewHub()

	svc := application.New(repo, txMgr, localCache, hub, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cross-instance fanout over redis; the bridge skips republishing
	// events that arrived from a sibling.
	fanout := router.New(redisClient, cfg.InstanceID)
	syncBridge := bridge.New(localCache, hub, repo, fanout, log)
	fanout.Subscribe(ctx, syncBridge.HandleRemote)

	// Durable change stream: outbox rows publish to kafka, the consumer
	// feeds the bridge which merges deltas into the cache and hub.
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	worker := &outbox.Worker{
		Store:     repo,
		Producer:  producer,
		BatchSize: 100,
		PollDelay: 2 * time.Second,
		Topic:     cfg.KafkaTopic,
	}
	go worker.Start(ctx)

	consumer, err := kafka.NewConsumer(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.KafkaTopic,
		cfg.KafkaGroup,
		syncBridge,
		syncBridge,
	)
	if err != nil {
		log.Fatal("kafka consumer failed", zap.Error(err))
	}
	consumer.Start(ctx)

	// HTTP + websocket surface
	registry := ws.NewRegistry()
	wsHandler := ws.NewHandler(registry, svc)
	apiHandler := httptransport.NewHandler(svc)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httptransport.NewRouter(apiHandler, wsHandler.ServeHTTP, db, cfg.ServiceName),
	}

	go func() {
		log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
	consumer.Close()

	log.Info("shutdown complete")
}
