package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/kafka"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/service"
	"github.com/embesozzi/keycloak-openfga-event-publisher/pkg/log"
)

const gracefulShutdownSeconds = 30

func main() {
	log.InitStructureLogConfig()

	configFile := pflag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.LoadServiceConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := service.NewPipeline(ctx, cfg)
	if err != nil {
		slog.Error("failed to build event pipeline", "error", err)
		os.Exit(1)
	}

	svc := service.NewWebhookService(cfg, pipeline.Listener)
	go func() {
		if err := svc.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook service failed", "error", err)
			os.Exit(1)
		}
	}()

	var wg sync.WaitGroup
	var closeGroup func() error
	if cfg.Kafka.Enabled {
		group, err := kafka.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			slog.Error("failed to create kafka consumer group", "error", err)
			os.Exit(1)
		}
		closeGroup = group.Close

		consumer := kafka.NewConsumer(pipeline.Listener)
		wg.Add(1)
		go consumer.Run(ctx, &wg, group, cfg.Kafka.Topic)

		// surface consumer group errors; they are not returned by Consume
		go func() {
			for err := range group.Errors() {
				slog.ErrorContext(ctx, "kafka consumer group error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownSeconds*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown webhook service", "error", err)
	}

	if closeGroup != nil {
		wg.Wait()
		if err := closeGroup(); err != nil {
			slog.Error("failed to close kafka consumer group", "error", err)
		}
	}

	slog.Info("event publisher stopped")
}
