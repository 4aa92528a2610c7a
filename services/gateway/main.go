// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/vizionik25/CodeRevAI-sub000/pkg/logging"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/admission"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/historyqueue"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/routes"
	"github.com/vizionik25/CodeRevAI-sub000/services/historystore"
	"github.com/vizionik25/CodeRevAI-sub000/services/llm"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "coderev-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("coderev-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newCounterStore picks the shared store implementation from config.
func newCounterStore(cfg Config) admission.CounterStore {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set; rate limits are per-instance only")
		return admission.NewMemoryStore()
	}
	store, err := admission.NewRedisStore(cfg.RedisURL)
	if err != nil {
		// Degraded policies handle the outage from here; starting with an
		// unreachable store beats refusing to start during a Redis blip.
		slog.Error("rate limit store unavailable at startup, continuing degraded", "error", err)
		opt, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Fatalf("invalid REDIS_URL: %v", parseErr)
		}
		return admission.NewRedisStoreFromClient(redis.NewClient(opt))
	}
	return store
}

func main() {
	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "gateway",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("failed to load gateway config: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	// --- Shared rate limit store + limiter ---
	store := newCounterStore(cfg)
	limiter := admission.NewLimiter(store, cfg.LimiterConfig(), metrics, logger)

	// --- History store (secondary persistence) ---
	historyCfg := historystore.Config{Path: cfg.HistoryPath, Logger: logger}
	if cfg.HistoryPath == "" {
		slog.Warn("HISTORY_PATH not set; history is in-memory only")
		historyCfg.InMemory = true
	}
	history, err := historystore.Open(historyCfg)
	if err != nil {
		log.Fatalf("failed to open history store: %v", err)
	}
	defer history.Close()

	// --- Retry queue for failed history writes ---
	queue := historyqueue.New(
		func(ctx context.Context, ownerID string, item historystore.Item) error {
			return history.AddHistoryItem(ctx, ownerID, item)
		},
		cfg.Queue, metrics, logger)

	// --- Upstream AI client ---
	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("failed to init the LLM client: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("coderev-gateway"))
	routes.SetupRoutes(router, llmClient, history, queue, limiter, metrics,
		middleware.NopAuthProvider{}, cfg.Policies())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("gateway listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("gateway exited: %v", err)
	}
	slog.Info("gateway stopped")
}
