package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crashd/internal/config"
	"crashd/internal/logger"
	"crashd/internal/metrics"
	"crashd/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	srv := server.New(cfg, log)
	srv.RegisterFiberRoutes()

	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(ctx context.Context) error {
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("signal received, shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.App.ShutdownWithContext(ctx); err != nil {
			log.Error("http shutdown", zap.Error(err))
		}
		if err := srv.Shutdown(); err != nil {
			log.Error("component shutdown", zap.Error(err))
		}
		_ = metricsSrv.Shutdown(ctx)
	}()

	log.Info("listening", zap.String("port", cfg.Port))
	if err := srv.Listen(":" + cfg.Port); err != nil {
		log.Fatal("listen", zap.Error(err))
	}

	<-done
	log.Info("shutdown complete")
}
