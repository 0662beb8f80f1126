// Package gateway implements the edge trust boundary: it authenticates each
// inbound request once, cross-checks the session registry, and forwards the
// request upstream with the trusted identity header set attached.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"huddle/internal/identity"
	"huddle/internal/platform/middleware"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/internal/transport/httperror"
	dErrors "huddle/pkg/domain-errors"
)

var (
	requestsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_gateway_forwarded_total",
		Help: "Requests authenticated and forwarded upstream",
	})
	requestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_gateway_rejected_total",
		Help: "Requests rejected at the edge, by reason",
	}, []string{"reason"})
)

// sessionLookupTimeout bounds the store round trip so a slow cache cannot
// hold edge connections open indefinitely.
const sessionLookupTimeout = 2 * time.Second

// bypassPaths are reachable without a pre-existing token: they are how tokens
// come to exist in the first place.
var bypassPaths = map[string]struct{}{
	"/auth/login":   {},
	"/auth/refresh": {},
	"/auth/google":  {},
}

// Gateway is the single edge filter plus the reverse proxy behind it.
type Gateway struct {
	codec  *token.Codec
	store  session.Store
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// New builds a gateway forwarding to upstream. The codec only needs the
// public verification key here; the gateway never signs.
func New(codec *token.Codec, store session.Store, upstream *url.URL, logger *slog.Logger) *Gateway {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.Out.Host = upstream.Host
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "upstream proxy error",
				"error", err,
				"path", r.URL.Path,
				"request_id", middleware.GetRequestID(r.Context()),
			)
			httperror.Write(w, dErrors.New(dErrors.CodeInternal, "upstream unavailable"))
		},
	}
	return &Gateway{
		codec:  codec,
		store:  store,
		proxy:  proxy,
		logger: logger,
	}
}

// ServeHTTP authenticates and forwards one request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Whatever happens next, identity headers supplied by the client are
	// stripped. Only this gateway mints them.
	identity.StripHeaders(r.Header)

	if _, ok := bypassPaths[r.URL.Path]; ok {
		g.proxy.ServeHTTP(w, r)
		return
	}

	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		requestsRejected.WithLabelValues("missing_token").Inc()
		httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	claims, err := g.codec.Verify(bearer)
	if err != nil {
		requestsRejected.WithLabelValues("invalid_token").Inc()
		g.logger.WarnContext(r.Context(), "rejected request with invalid token",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httperror.Write(w, err)
		return
	}

	principal, err := claims.Principal()
	if err != nil {
		requestsRejected.WithLabelValues("invalid_token").Inc()
		httperror.Write(w, err)
		return
	}

	// The lookup deliberately does not inherit the request's cancellation:
	// once issued it is side-effect-free and allowed to complete, while the
	// timeout keeps a slow store from wedging the edge.
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), sessionLookupTimeout)
	valid := g.store.Validate(lookupCtx, principal.SessionID)
	cancel()

	if !valid {
		requestsRejected.WithLabelValues("session_invalid").Inc()
		httperror.Write(w, dErrors.New(dErrors.CodeSessionInvalid, "session expired or invalid"))
		return
	}

	// Client gone mid-lookup: abandon forwarding.
	if r.Context().Err() != nil {
		return
	}

	identity.SetHeaders(r.Header, principal)
	requestsForwarded.Inc()
	g.proxy.ServeHTTP(w, r)
}
