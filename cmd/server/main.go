package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tetrecs/internal/config"
	"tetrecs/internal/lobby"
	"tetrecs/internal/server"
	"tetrecs/internal/storage"
)

var configPath = flag.String("config", config.GetEnv("TETRECS_CONFIG", ""), "path to YAML config")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	store, err := storage.New(cfg.Server.DBPath)
	if err != nil {
		sugar.Fatalw("open database", "path", cfg.Server.DBPath, "error", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := lobby.NewManager(store, sugar.Named("lobby"))
	go mgr.CleanupLoop(ctx, cfg.Server.CleanupInterval, cfg.Server.MaxChannelAge)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(mgr, store, sugar.Named("server")),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	sugar.Infow("listening", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalw("server", "error", err)
	}
}
