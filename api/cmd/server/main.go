package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"baysafe/api/internal/app"
	"baysafe/api/internal/config"
	"baysafe/api/internal/handle"
	"baysafe/api/internal/httpserver"
	"baysafe/api/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer a.Close()

	h := handle.New(a.Analyzer, cfg.Server, log)
	if a.DB != nil {
		h.WithDB(a.DB)
	}

	go a.RunJanitor(ctx, time.Hour)

	srv := httpserver.New(cfg.Addr(), h.Router(), cfg.Server.RequestTimeout+30*time.Second, log)
	if err := srv.Run(ctx); err != nil {
		log.Error("Server failed", zap.Error(err))
	}
	log.Info("Server exited")
}
