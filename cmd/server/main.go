package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kbvector/internal/api"
	"kbvector/internal/config"
	"kbvector/internal/embed"
	"kbvector/internal/ingest"
	"kbvector/internal/vectorstore"
)

func main() {
	godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	embedder, err := embed.NewClient(embed.Options{
		URL:         cfg.EmbedURL,
		Model:       cfg.EmbedModel,
		Dimension:   cfg.EmbedDimension,
		Concurrency: cfg.EmbedConcurrency,
		Timeout:     cfg.EmbedTimeout,
		ProxyURL:    cfg.ProxyURL,
		Logger:      log,
	})
	if err != nil {
		log.Error("embed client init failed", "error", err)
		os.Exit(1)
	}

	store, err := vectorstore.New(vectorstore.Options{
		URL:            cfg.MilvusURL,
		Collection:     cfg.Collection,
		Dimension:      cfg.EmbedDimension,
		MaxTextLength:  cfg.MaxTextLength,
		IndexClusters:  cfg.IndexClusters,
		SearchProbes:   cfg.SearchProbes,
		DefaultTopK:    cfg.DefaultTopK,
		ResetOnInit:    cfg.ResetOnInit,
		ConnectRetries: cfg.ConnectRetries,
		ConnectBackoff: cfg.ConnectBackoff,
		ProxyURL:       cfg.ProxyURL,
		Logger:         log,
	})
	if err != nil {
		log.Error("vector store init failed", "error", err)
		os.Exit(1)
	}

	// Open the collection before accepting traffic. On failure the process
	// keeps serving so /health can report the cause instead of crash-looping.
	if err := store.Open(ctx); err != nil {
		log.Error("vector store unavailable", "error", err)
	}

	ingester := ingest.NewService(embedder, store, log, cfg.TitleThreshold, cfg.PDFFallbackPdftotext)

	srv := api.NewServer(ingester, embedder, store, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		embedder.Close()
		store.Close()
	}()

	log.Info("starting kbvector", "port", cfg.Port, "collection", cfg.Collection)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
