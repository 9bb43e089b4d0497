// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/glanderclub/railroad/pkg/logging"
	"github.com/glanderclub/railroad/services/railroad/catalog"
	"github.com/glanderclub/railroad/services/railroad/commit"
	"github.com/glanderclub/railroad/services/railroad/config"
	"github.com/glanderclub/railroad/services/railroad/levelset"
	"github.com/glanderclub/railroad/services/railroad/notify"
	"github.com/glanderclub/railroad/services/railroad/observability"
	"github.com/glanderclub/railroad/services/railroad/routes"
	"github.com/glanderclub/railroad/services/railroad/session"
	"github.com/glanderclub/railroad/services/railroad/sim"
	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/users"
	"github.com/glanderclub/railroad/services/railroad/validation"
)

// initTracer wires the OTLP trace exporter when a collector endpoint is
// configured. Without one, tracing stays off and the no-op provider is
// kept.
func initTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("railroad")))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		LogDir:  cfg.Logging.Dir,
		Service: "railroad",
		JSON:    cfg.Logging.JSON,
	})
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := initTracer(ctx)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	store, err := storage.Open(storage.Config{
		Path:       cfg.Storage.Path,
		SyncWrites: cfg.Storage.SyncWrites,
		GCInterval: 5 * time.Minute,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	loader, err := levelset.NewLoader(cfg.Levels.Dir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = loader.Close() }()

	var replayer sim.Replayer
	switch cfg.Simulator.Backend {
	case "scripted":
		logger.Warn("using the scripted simulator backend; no real validation will happen")
		replayer = sim.NewScriptedReplayer()
	default:
		httpReplayer := sim.NewHTTPReplayer(cfg.Simulator.URL, nil)
		if err := httpReplayer.Healthy(ctx); err != nil {
			return fmt.Errorf("simulator not reachable: %w", err)
		}
		replayer = httpReplayer
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	userSvc := users.NewService(store, cfg.Auth.Argon2, logger)
	runner := validation.NewRunner(replayer, logger)
	routeNotifier := notify.NewNotifier(cfg.Discord.WebhookURLs, nil, logger)
	userNotifier := notify.NewNotifier(cfg.Discord.UserWebhookURLs, nil, logger)
	coordinator := commit.NewCoordinator(store, routeNotifier, metrics, logger)
	sessionHandler := session.NewHandler(userSvc, loader, runner, coordinator, store, metrics, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("railroad"))
	routes.SetupRoutes(router, routes.Deps{
		Store:        store,
		Users:        userSvc,
		Session:      sessionHandler,
		UserNotifier: userNotifier,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("railroad listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Catalog.URL != "" && cfg.Catalog.SyncInterval > 0 {
		client := catalog.NewClient(cfg.Catalog.URL, nil, logger)
		group.Go(func() error {
			return syncLoop(ctx, client, store, cfg.Catalog.Packs, cfg.Catalog.SyncInterval, logger)
		})
	}

	return group.Wait()
}

// syncLoop refreshes bold values on startup and then on every tick. Sync
// failures are logged and retried next round; they never bring the
// service down.
func syncLoop(ctx context.Context, client *catalog.Client, store *storage.Store, packs []string, interval time.Duration, logger *slog.Logger) error {
	if err := catalog.Sync(ctx, client, store, packs); err != nil {
		logger.Warn("initial catalog sync incomplete", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := catalog.Sync(ctx, client, store, packs); err != nil {
				logger.Warn("catalog sync incomplete", "error", err)
			}
		}
	}
}
