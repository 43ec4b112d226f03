package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/relay"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	upstreamHost := config.GetEnv("UPSTREAM_HOST", "localhost:1935")
	environment := config.GetEnv("ENVIRONMENT", "development")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	rateLimit := config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 0)

	log := logger.New(logLevel, logFormat)

	met := metrics.New()
	svc := relay.NewService(relay.Config{
		UpstreamHost: upstreamHost,
		FFmpegBin:    config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		TmpRoot:      config.GetEnv("TMP_DIR", filepath.Join(os.TempDir(), "hls-relay")),
		IdleTimeout:  config.GetEnvDuration("IDLE_TIMEOUT", relay.DefaultIdleTimeout),
		StartTimeout: config.GetEnvDuration("START_TIMEOUT", relay.DefaultStartTimeout),
		ServeWait:    config.GetEnvDuration("SERVE_WAIT", relay.DefaultServeWait),
	}, log, met)
	h := relay.NewHandler(svc, log, environment, upstreamHost)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	if rateLimit > 0 {
		r.Use(httprate.LimitByIP(rateLimit, time.Minute))
	}
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Get("/*", h.Stream)

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
		"upstream_host", upstreamHost,
		"environment", environment,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	svc.Shutdown()
	log.Info("server stopped")
}
