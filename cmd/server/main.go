// Command server runs the core huddle service: the auth endpoints, the
// trusted API surface behind the gateway, and the internal service-to-service
// routes. It sits behind the gateway binary and trusts only gateway-minted
// identity headers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"huddle/internal/authflow"
	"huddle/internal/events"
	"huddle/internal/googleauth"
	"huddle/internal/identity"
	"huddle/internal/platform/config"
	"huddle/internal/platform/httpserver"
	"huddle/internal/platform/kafka/producer"
	"huddle/internal/platform/logger"
	"huddle/internal/platform/middleware"
	platformredis "huddle/internal/platform/redis"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/internal/transport/httpjson"
	"huddle/internal/trust"
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

	log.Info("initializing huddle server",
		"addr", cfg.Addr,
		"admin_addr", cfg.AdminAddr,
		"environment", cfg.Environment,
	)

	// Session store: redis when configured, in-memory otherwise (dev only).
	var sessions session.Store
	rdb, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		sessions = session.NewRedis(rdb.Client, log)
		log.Info("session store backed by redis")
	} else {
		sessions = session.NewMemory()
		log.Warn("redis not configured, using in-memory session store")
	}

	// Event channel: kafka when brokers are configured, otherwise events are
	// logged and dropped.
	var channel events.Channel
	if cfg.KafkaBrokers != "" {
		prod, err := producer.New(producer.Config{Brokers: cfg.KafkaBrokers}, log)
		if err != nil {
			log.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer prod.Close()
		channel = events.NewKafkaChannel(prod)
		log.Info("event channel backed by kafka", "topic", cfg.ActivityTopic)
	} else {
		log.Warn("kafka not configured, events will be dropped")
	}
	dispatcher := events.NewDispatcher(channel, cfg.ActivityTopic, log)

	privateKey, err := token.ParsePrivateKey(cfg.TokenPrivateKey)
	if err != nil {
		log.Error("invalid token private key", "error", err)
		os.Exit(1)
	}
	publicKey, err := token.ParsePublicKey(cfg.TokenPublicKey)
	if err != nil {
		log.Error("invalid token public key", "error", err)
		os.Exit(1)
	}
	codec, err := token.New(privateKey, publicKey, cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenTTL)
	if err != nil {
		log.Error("token codec init failed", "error", err)
		os.Exit(1)
	}

	var users authflow.UserStore
	if cfg.UsersFile != "" {
		seeded, err := authflow.LoadUsersFile(cfg.UsersFile)
		if err != nil {
			log.Error("loading users file failed", "error", err, "path", cfg.UsersFile)
			os.Exit(1)
		}
		users = seeded
	} else {
		users = authflow.NewMemoryUserStore()
		log.Warn("no users file configured, only federated login can succeed")
	}

	var google authflow.GoogleVerifier
	if cfg.GoogleClientID != "" {
		google = googleVerifier{googleauth.New(cfg.GoogleClientID)}
	}

	auth := authflow.New(users, sessions, codec, google, dispatcher, log, authflow.Config{
		SessionTTL: cfg.SessionTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	authHandler := authflow.NewHandler(auth, log, authflow.CookieConfig{
		Domain:   cfg.CookieDomain,
		SameSite: cfg.SameSite(),
		Secure:   cfg.CookieSecure,
		MaxAge:   cfg.RefreshTTL,
	})

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)

	authHandler.Register(router)

	// Routes the gateway forwards with identity headers attached.
	router.Group(func(r chi.Router) {
		r.Use(trust.HeaderPrincipal(log))
		authHandler.RegisterProtected(r)
		r.Get("/api/me", handleMe)
	})

	// Service-to-service surface, authorized by shared secret only.
	router.Group(func(r chi.Router) {
		r.Use(trust.InternalSecret(cfg.InternalSecret, log))
		r.Post("/internal/broadcast", handleBroadcast(dispatcher, log))
	})

	admin := chi.NewRouter()
	admin.Get("/healthz", handleHealth(cfg.Environment, rdb))
	admin.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)
	adminSrv := httpserver.New(cfg.AdminAddr, admin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
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
	if rdb != nil {
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
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		return adminSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// googleVerifier adapts the googleauth package to the auth flow's seam.
type googleVerifier struct {
	v *googleauth.Verifier
}

func (g googleVerifier) Verify(ctx context.Context, idToken string) (authflow.Identity, error) {
	id, err := g.v.Verify(ctx, idToken)
	if err != nil {
		return authflow.Identity{}, err
	}
	return authflow.Identity{
		Subject:  id.Subject,
		Email:    id.Email,
		FullName: id.FullName,
	}, nil
}

// handleMe echoes the trusted principal back to the caller; a smoke test for
// the gateway's header plumbing.
func handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFrom(r.Context())
	httpjson.Write(w, http.StatusOK, map[string]string{
		"user_id":    p.UserID.String(),
		"email":      p.Email,
		"role":       p.Role,
		"full_name":  p.FullName,
		"session_id": p.SessionID.String(),
	})
}

// handleBroadcast lets sibling services push an activity event through the
// dispatcher without owning a kafka client.
func handleBroadcast(dispatcher *events.Dispatcher, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event events.Event
		if err := httpjson.Decode(r, &event); err != nil {
			httpjson.Write(w, http.StatusBadRequest, map[string]string{
				"error":   "bad_request",
				"message": "invalid event payload",
			})
			return
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		dispatcher.Publish(r.Context(), event)
		log.DebugContext(r.Context(), "internal broadcast accepted", "event_type", event.Type)
		httpjson.Write(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// handleHealth reports liveness plus the redis dependency when present.
func handleHealth(environment string, rdb *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{
			"status":      "ok",
			"environment": environment,
		}
		status := http.StatusOK
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				body["status"] = "degraded"
				body["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				body["redis"] = "ok"
			}
		}
		httpjson.Write(w, status, body)
	}
}
