package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/metrics"
	"github.com/JesusCabrera84/siscom-trips/internal/pipeline"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
	"github.com/JesusCabrera84/siscom-trips/internal/store"
	"github.com/JesusCabrera84/siscom-trips/internal/transport/kafka"
	"github.com/JesusCabrera84/siscom-trips/internal/transport/mqtt"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()
	log.Info("connected to postgres",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
	)

	var mirror pipeline.StateMirror
	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Warn("redis unavailable, live state mirror disabled", zap.Error(err))
	} else {
		defer redisStore.Close()
		mirror = redisStore
	}

	proc := processor.New(pg, log)
	consumer := pipeline.NewConsumer(proc, mirror, log, cfg.ProcessorWorkers, cfg.EventChannelSize)

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.HandleMetrics)
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(workersDone)
	}()

	switch cfg.EventSource {
	case "mqtt":
		client := mqtt.NewClient(cfg, consumer, log)
		log.Info("starting mqtt source", zap.String("topic", cfg.MQTTTopic))
		err = client.Run(ctx)
	default:
		kc, kerr := kafka.NewConsumer(cfg, consumer, log)
		if kerr != nil {
			log.Fatal("kafka init failed", zap.Error(kerr))
		}
		defer kc.Close()
		log.Info("starting kafka source",
			zap.String("topic", cfg.KafkaTopic),
			zap.String("group", cfg.KafkaGroupID),
		)
		err = kc.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("event source stopped", zap.Error(err))
	}

	<-workersDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("shutdown complete")
	_ = os.Stdout.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
