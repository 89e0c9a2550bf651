package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"disot/internal/api"
	"disot/internal/config"
	"disot/internal/logging"
	"disot/internal/middleware"
	"disot/internal/node"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "config file (default config/config.<DISOT_ENV>.json)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open storage, content store and ledger
	n, err := node.New(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Fatal("failed to initialize node", zap.Error(err))
	}
	defer n.Close()

	var dataDir string
	switch cfg.Storage.Provider {
	case "badger", "bolt", "fs":
		dataDir = cfg.Storage.Path
	}

	mux := api.NewMux(api.Services{
		Provider: n.Provider,
		DataDir:  dataDir,
		Content:  n.CAS,
		Ledger:   n.Ledger,
		Signer:   n.Signer,
	}, logger)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	// Start server
	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("environment", cfg.Environment),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
