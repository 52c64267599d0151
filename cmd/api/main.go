package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/chat-ledger-backend/internal/config"
	"github.com/shinyyama/chat-ledger-backend/internal/db"
	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/server"
)

var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load error: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	srv, err := server.New(ctx, cfg, nil, gitSHA, buildTime)
	if err != nil {
		logger.Fatalf("server init error: %v", err)
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)

	go func() {
		logger.Infof("starting server on %s", addr)
		errCh <- srv.Start(addr)
	}()

	// The ledger serves from its fallback cache until the database is injected.
	go func() {
		conn, err := db.Connect(cfg)
		if err != nil {
			logger.Errorf("db connect error: %v", err)
			return
		}
		if err := db.Migrate(conn); err != nil {
			logger.Errorf("auto migrate error: %v", err)
			return
		}
		srv.SetDB(conn)
		logger.Info("database ready")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped: %v", err)
		}
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	}
}
