package authflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"huddle/internal/events"
	"huddle/internal/identity"
	"huddle/internal/platform/middleware"
	"huddle/internal/transport/httperror"
	"huddle/internal/transport/httpjson"
	dErrors "huddle/pkg/domain-errors"
)

// RefreshCookieName is the cookie carrying the refresh credential. The
// credential never appears in a JSON body.
const RefreshCookieName = "refresh_token"

// CookieConfig controls the refresh cookie's scope attributes.
type CookieConfig struct {
	Domain   string
	SameSite http.SameSite
	Secure   bool
	MaxAge   time.Duration
}

// Handler exposes the auth flow over HTTP.
type Handler struct {
	auth   *Service
	logger *slog.Logger
	cookie CookieConfig
}

// NewHandler builds the auth HTTP layer.
func NewHandler(auth *Service, logger *slog.Logger, cookie CookieConfig) *Handler {
	return &Handler{auth: auth, logger: logger, cookie: cookie}
}

// Register mounts the endpoints reachable without a pre-existing token.
// The gateway bypasses its auth filter for exactly these paths.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/google", h.HandleGoogleLogin)
	r.Post("/auth/refresh", h.HandleRefresh)
}

// RegisterProtected mounts the endpoints that require a trusted principal;
// the parent router applies the trust filter.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/sessions", h.HandleSessions)
	r.Post("/auth/logout-all", h.HandleLogoutAll)
	r.Post("/auth/logout-others", h.HandleLogoutOthers)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
}

// HandleLogin implements POST /auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperror.Write(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httperror.Write(w, dErrors.New(dErrors.CodeBadRequest, "email and password are required"))
		return
	}

	h.finishLogin(w, r, func(ctx context.Context) (*TokenPair, error) {
		return h.auth.Login(ctx, req.Email, req.Password, clientMeta(r))
	})
}

// HandleGoogleLogin implements POST /auth/google.
func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperror.Write(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		httperror.Write(w, dErrors.New(dErrors.CodeBadRequest, "id_token is required"))
		return
	}

	h.finishLogin(w, r, func(ctx context.Context) (*TokenPair, error) {
		return h.auth.GoogleLogin(ctx, req.IDToken, clientMeta(r))
	})
}

// finishLogin runs a login under a unit of work so login events are published
// only after the flow fully succeeds.
func (h *Handler) finishLogin(w http.ResponseWriter, r *http.Request, login func(context.Context) (*TokenPair, error)) {
	uow := events.NewUnitOfWork()
	ctx := events.WithUnitOfWork(r.Context(), uow)

	pair, err := login(ctx)
	if err != nil {
		uow.Rollback()
		h.logger.WarnContext(ctx, "login failed",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httperror.Write(w, err)
		return
	}
	uow.Commit(ctx)

	h.setRefreshCookie(w, pair.RefreshCredential)
	httpjson.Write(w, http.StatusOK, h.tokenResponse(pair))
}

// HandleRefresh implements POST /auth/refresh. It needs both the refresh
// cookie and the (possibly expired) access token: the token locates the
// session, the cookie proves the caller still owns it.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		httperror.Write(w, dErrors.New(dErrors.CodeRefreshMismatch, "missing refresh credential"))
		return
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		httperror.Write(w, dErrors.New(dErrors.CodeTokenInvalid, "missing bearer token"))
		return
	}

	pair, err := h.auth.Refresh(r.Context(), bearer, cookie.Value)
	if err != nil {
		httperror.Write(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshCredential)
	httpjson.Write(w, http.StatusOK, h.tokenResponse(pair))
}

// HandleLogout implements POST /auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated principal"))
		return
	}

	if err := h.auth.Logout(r.Context(), principal); err != nil {
		httperror.Write(w, err)
		return
	}

	h.clearRefreshCookie(w)
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HandleSessions implements GET /auth/sessions.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated principal"))
		return
	}

	summaries, err := h.auth.Sessions(r.Context(), principal)
	if err != nil {
		httperror.Write(w, err)
		return
	}

	type sessionJSON struct {
		SessionID      string    `json:"session_id"`
		DeviceInfo     string    `json:"device_info"`
		ClientIP       string    `json:"client_ip"`
		CreatedAt      time.Time `json:"created_at"`
		LastAccessedAt time.Time `json:"last_accessed_at"`
		Current        bool      `json:"current"`
	}
	out := make([]sessionJSON, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, sessionJSON{
			SessionID:      s.SessionID.String(),
			DeviceInfo:     s.DeviceInfo,
			ClientIP:       s.ClientIP,
			CreatedAt:      s.CreatedAt,
			LastAccessedAt: s.LastAccessedAt,
			Current:        s.Current,
		})
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"sessions": out})
}

// HandleLogoutAll implements POST /auth/logout-all.
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	h.bulkRevoke(w, r, h.auth.LogoutAll, true)
}

// HandleLogoutOthers implements POST /auth/logout-others.
func (h *Handler) HandleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	h.bulkRevoke(w, r, h.auth.LogoutOthers, false)
}

func (h *Handler) bulkRevoke(
	w http.ResponseWriter,
	r *http.Request,
	revoke func(context.Context, identity.Principal) (*RevocationResult, error),
	clearCookie bool,
) {
	principal, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated principal"))
		return
	}

	uow := events.NewUnitOfWork()
	ctx := events.WithUnitOfWork(r.Context(), uow)

	result, err := revoke(ctx, principal)
	if err != nil {
		uow.Rollback()
		httperror.Write(w, err)
		return
	}
	uow.Commit(ctx)

	if clearCookie {
		h.clearRefreshCookie(w)
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"revoked_count": result.RevokedCount,
		"failed_count":  result.FailedCount,
	})
}

func (h *Handler) tokenResponse(pair *TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(pair.ExpiresIn.Seconds()),
		User: userResponse{
			ID:       pair.Principal.UserID.String(),
			Email:    pair.Principal.Email,
			Role:     pair.Principal.Role,
			FullName: pair.Principal.FullName,
		},
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, credential string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    credential,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}

// clientMeta captures the caller's user agent and best-guess IP.
func clientMeta(r *http.Request) ClientMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// First hop in the list is the original client.
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	} else {
		ip = r.RemoteAddr
	}
	return ClientMeta{
		UserAgent: r.Header.Get("User-Agent"),
		IP:        ip,
	}
}
