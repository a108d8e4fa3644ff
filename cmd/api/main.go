package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/NicolaiDodeac/Instant-SOP/internal/app"
	"github.com/NicolaiDodeac/Instant-SOP/internal/config"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
	"github.com/NicolaiDodeac/Instant-SOP/internal/media"
	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
	"github.com/NicolaiDodeac/Instant-SOP/internal/syncer"
	"github.com/NicolaiDodeac/Instant-SOP/internal/urlcache"
)

// collaborator lets a MinIO media target replace the backend's URL-signing
// endpoints while record pushes still go through the backend.
type collaborator struct {
	remote.MediaTarget
	remote.RecordStore
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	drafts, err := draft.Open(filepath.Join(cfg.DataDir, "drafts.db"))
	if err != nil {
		log.Fatalf("draft store failed: %v", err)
	}
	defer drafts.Close()

	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteToken)
	var collab remote.Collaborator = client
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Signing media URLs directly against %s", cfg.MinioEndpoint)
		target, err := media.NewMinioTarget(media.Config{
			Endpoint:    cfg.MinioEndpoint,
			AccessKey:   cfg.MinioAccessKey,
			SecretKey:   cfg.MinioSecretKey,
			Bucket:      cfg.MinioBucket,
			UseSSL:      cfg.MinioUseSSL,
			UploadTTL:   cfg.UploadTTL,
			PlaybackTTL: cfg.PlaybackTTL,
		})
		if err != nil {
			log.Fatalf("minio target failed: %v", err)
		}
		collab = collaborator{MediaTarget: target, RecordStore: client}
	}

	var urls *urlcache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for playback URL caching")
		urls, err = urlcache.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer urls.Close()
	}

	engine := syncer.New(drafts, collab, urls, cfg.PlaybackTTL)
	service := app.New(cfg, drafts, engine)
	if strings.TrimSpace(cfg.RemoteBaseURL) != "" {
		engine.SetOnline(ctx, true)
	} else {
		log.Printf("No remote configured; starting offline")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(cfg, service),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Instant SOP annotation engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
