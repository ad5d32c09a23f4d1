package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-rewind/internal/platform/config"
	"hls-rewind/internal/platform/logger"
	"hls-rewind/internal/platform/metrics"
	"hls-rewind/internal/rewind"

	"github.com/avfs/avfs/vfs/osfs"
	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	clipDir := config.GetEnv("CLIP_DIR", "./clips")
	fetchWorkers := config.GetEnvInt("FETCH_WORKERS", rewind.DefaultFetchWorkers)
	fetchRate := config.GetEnvInt("FETCH_RATE_LIMIT", 0)

	sessionCfg := rewind.SessionConfig{
		Capacity:          config.GetEnvInt("BUFFER_CAPACITY", rewind.DefaultCapacity),
		ColdStartSegments: config.GetEnvInt("COLD_START_SEGMENTS", rewind.DefaultColdStartSegments),
		PollInterval:      config.GetEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
		BackoffInterval:   config.GetEnvDuration("BACKOFF_INTERVAL", 3*time.Second),
	}

	log := logger.New(logLevel, logFormat)

	fetcher, err := rewind.NewParallelFetcher(nil, fetchWorkers, fetchRate, log)
	if err != nil {
		log.Error("fetcher init failed", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	poller := rewind.NewPlaylistPoller(nil)
	met := metrics.New()
	registry := rewind.NewBufferRegistry(poller, fetcher, sessionCfg, log, met)
	clips := rewind.NewFSClipStore(osfs.New(), clipDir)
	h := rewind.NewHandler(registry, clips, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.ActiveCount()) }).ServeHTTP(w, req)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"buffer_capacity", sessionCfg.Capacity,
		"poll_interval", sessionCfg.PollInterval.String(),
		"clip_dir", clipDir,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	registry.StopAll()
	log.Info("server stopped")
}
