package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"proof-vault/api"
	"proof-vault/config"
	"proof-vault/logging"
	"proof-vault/notify"
	"proof-vault/service"
	"proof-vault/storage"
	"proof-vault/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("proof vault stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := cfg.OpenStore(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	codec, err := storage.NewCodec(cfg.Codec)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := telemetry.NewRecorder(reg)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithCodec(codec),
		service.WithRecorder(recorder),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, service.WithNotifier(publisher))
	}

	verificationService, err := service.NewVerificationService(store, cfg.Service, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize verification service: %w", err)
	}
	defer verificationService.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(verificationService, telemetry.Handler(reg), logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.Int("port", cfg.Port),
			zap.String("store", cfg.Store),
			zap.String("codec", codec.Name()))
		serverChan <- server.ListenAndServe()
	}()

	select {
	case err := <-serverChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := verificationService.Flush(shutdownCtx); err != nil {
		logger.Warn("failed to flush pending writes", zap.Error(err))
	}
	logger.Info("server shutdown completed")
	return nil
}
