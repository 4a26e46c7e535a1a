// Package main runs the Mission Control stream client: it keeps the live
// agent event stream connected, publishes it to the event bus that feeds the
// archive and local browser clients, and serves a status API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iamthamanic/multiagentultra/internal/apiclient"
	"github.com/iamthamanic/multiagentultra/internal/archive"
	"github.com/iamthamanic/multiagentultra/internal/common/config"
	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/common/metrics"
	"github.com/iamthamanic/multiagentultra/internal/common/tracing"
	"github.com/iamthamanic/multiagentultra/internal/events/bus"
	"github.com/iamthamanic/multiagentultra/internal/gateway/httpapi"
	gateways "github.com/iamthamanic/multiagentultra/internal/gateway/websocket"
	"github.com/iamthamanic/multiagentultra/internal/relay"
	"github.com/iamthamanic/multiagentultra/internal/stream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Mission Control stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Mission Control",
		zap.String("api", cfg.API.BaseURL),
		zap.String("stream", cfg.Stream.URL),
		zap.Bool("tracing", tracing.Enabled()))

	m := metrics.New()

	eventBus, err := bus.New(cfg.Events, log)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	var history httpapi.History
	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("Failed to close archive", zap.Error(err))
			}
		}()
		history = store

		sub, err := relay.SubscribeArchive(eventBus, cfg.Events.SubjectPrefix, store, relay.DefaultSinkTimeout)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
		log.Info("Message archive enabled", zap.String("path", cfg.Archive.Path))
	}

	client := apiclient.NewClient(apiclient.FromConfig(cfg.API), log, apiclient.WithMetrics(m))

	manager := stream.NewManager(stream.FromConfig(cfg.Stream), log, stream.WithMetrics(m))
	defer manager.Close()

	gateway := gateways.NewGateway(manager, log)
	hubSub, err := relay.SubscribeBroadcaster(eventBus, cfg.Events.SubjectPrefix, gateway.Hub, log)
	if err != nil {
		return err
	}
	defer func() { _ = hubSub.Unsubscribe() }()

	unsubscribe := manager.Subscribe(relay.New(log, relay.WithBus(eventBus, cfg.Events.SubjectPrefix)))
	defer unsubscribe()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers:  httpapi.NewHandlers(manager, cfg.Stream.URL, history, client, log),
		WebSocket: gateway.Handler.HandleConnection,
		Metrics:   m.Handler(),
		Debug:     cfg.Logging.Level == "debug",
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gateway.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("Status server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		checkCtx, cancel := context.WithTimeout(gctx, cfg.API.TimeoutDuration())
		defer cancel()
		if client.CheckConnection(checkCtx) {
			log.Info("Backend is reachable")
		} else {
			log.Warn("Backend is not reachable, the stream will keep retrying")
		}
		return nil
	})

	if cfg.Stream.ProjectID > 0 {
		target, err := stream.ProjectTarget(cfg.Stream.URL, cfg.Stream.ProjectID)
		if err != nil {
			return fmt.Errorf("stream target: %w", err)
		}
		if err := manager.Connect(target); err != nil {
			return fmt.Errorf("stream connect: %w", err)
		}
		log.WithProjectID(cfg.Stream.ProjectID).Info("Connecting to configured project stream")
	} else {
		log.Info("No project configured, waiting for PUT /api/v1/stream/target")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down Mission Control...")

		manager.Disconnect()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Status server shutdown error", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Mission Control stopped")
	return nil
}
