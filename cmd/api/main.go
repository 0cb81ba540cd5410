package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shadowsculpt/backend/internal/config"
	"github.com/shadowsculpt/backend/internal/handler"
	capturehandler "github.com/shadowsculpt/backend/internal/handler/capture"
	capturesvc "github.com/shadowsculpt/backend/internal/service/capture"
	"github.com/shadowsculpt/backend/internal/service/reconstruct"
	"github.com/shadowsculpt/backend/internal/service/session"
	"github.com/shadowsculpt/backend/internal/service/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	layout, err := storage.NewLayout(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("failed to prepare storage root: %v", err)
	}

	registry := session.NewRegistry()
	janitor := storage.NewJanitor(layout, registry, cfg.Storage.Retention)

	hub := capturehandler.NewHub()
	ingestor := capturesvc.NewIngestor(layout, registry, hub)

	provider := reconstruct.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	if cfg.Provider.Enabled() {
		log.Println("reconstruction provider configured")
	} else {
		log.Println("MESHY_API_KEY not set; reconstruction requests will fail with a config error")
	}

	orchestrator := reconstruct.NewOrchestrator(registry, layout, provider, hub, reconstruct.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		PollInterval:  cfg.Provider.PollInterval,
		MaxAttempts:   cfg.Provider.MaxAttempts,
	})

	coordinator := capturehandler.New(registry, ingestor, orchestrator, janitor, hub)

	if cfg.Storage.SweepInterval > 0 {
		go janitor.Run(ctx, cfg.Storage.SweepInterval)
		log.Printf("storage janitor running every %s", cfg.Storage.SweepInterval)
	}

	router := handler.NewRouter(layout, coordinator)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Shadow Sculpture backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
