// Command gateway runs the edge proxy: it verifies access tokens and live
// sessions, stamps trusted identity headers, and forwards to the core
// service. It holds only the token verification key, never the signing key.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"huddle/internal/gateway"
	"huddle/internal/platform/config"
	"huddle/internal/platform/httpserver"
	"huddle/internal/platform/logger"
	"huddle/internal/platform/middleware"
	platformredis "huddle/internal/platform/redis"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/internal/transport/httpjson"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	log := logger.New(level)

	log.Info("initializing huddle gateway",
		"addr", cfg.Addr,
		"admin_addr", cfg.AdminAddr,
		"upstream", cfg.UpstreamURL,
	)

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		log.Error("invalid upstream URL", "error", err)
		os.Exit(1)
	}

	// The gateway only verifies; the signing key stays with the core service.
	publicKey, err := token.ParsePublicKey(cfg.TokenPublicKey)
	if err != nil {
		log.Error("invalid token public key", "error", err)
		os.Exit(1)
	}
	codec, err := token.New(nil, publicKey, cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenTTL)
	if err != nil {
		log.Error("token codec init failed", "error", err)
		os.Exit(1)
	}

	var sessions session.Store
	rdb, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		sessions = session.NewRedis(rdb.Client, log)
	} else {
		// Without the shared store every session lookup fails closed, which
		// makes the gateway reject all authenticated traffic. Refuse to start.
		log.Error("redis is required for session validation")
		os.Exit(1)
	}

	gw := gateway.New(codec, sessions, upstream, log)

	var handler http.Handler = gw
	handler = middleware.Logger(log)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(log)(handler)

	admin := chi.NewRouter()
	admin.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok", "environment": cfg.Environment}
		status := http.StatusOK
		if err := rdb.Health(r.Context()); err != nil {
			body["status"] = "degraded"
			body["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		httpjson.Write(w, status, body)
	})
	admin.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, handler)
	adminSrv := httpserver.New(cfg.AdminAddr, admin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gateway", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting admin server", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rdb.RecordPoolStats()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("gateway shutdown failed", "error", err)
		}
		return adminSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("gateway error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
