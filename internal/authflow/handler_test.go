package authflow_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"huddle/internal/authflow"
	"huddle/internal/events"
	"huddle/internal/identity"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/internal/trust"
	"huddle/pkg/domain"
)

type handlerFixture struct {
	router   chi.Router
	sessions *session.MemoryStore
	codec    *token.Codec
	user     *authflow.User
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	codec, err := token.New(priv, pub, "huddle-auth", "huddle-api", 30*time.Minute)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &authflow.User{
		ID:           domain.NewUserID(),
		Email:        "ada@example.com",
		FullName:     "Ada Lovelace",
		Role:         identity.RoleMember,
		PasswordHash: string(hash),
		Status:       authflow.UserStatusActive,
	}

	sessions := session.NewMemory()
	dispatcher := events.NewDispatcher(nil, "huddle.activity", discardLogger())
	service := authflow.New(
		authflow.NewMemoryUserStore(user),
		sessions,
		codec,
		nil,
		dispatcher,
		discardLogger(),
		authflow.Config{SessionTTL: time.Hour, RefreshTTL: 24 * time.Hour},
	)
	handler := authflow.NewHandler(service, discardLogger(), authflow.CookieConfig{
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
		MaxAge:   24 * time.Hour,
	})

	router := chi.NewRouter()
	handler.Register(router)
	router.Group(func(r chi.Router) {
		r.Use(trust.HeaderPrincipal(discardLogger()))
		handler.RegisterProtected(r)
	})

	return &handlerFixture{router: router, sessions: sessions, codec: codec, user: user}
}

func (f *handlerFixture) login(t *testing.T) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	body := `{"email":"ada@example.com","password":"correct horse"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		if c.Name == authflow.RefreshCookieName {
			return rec, c
		}
	}
	t.Fatal("login response did not set refresh cookie")
	return nil, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func TestHandleLogin_Success(t *testing.T) {
	f := newHandlerFixture(t)

	rec, cookie := f.login(t)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(1800), resp.ExpiresIn)
	assert.Equal(t, f.user.Email, resp.User.Email)

	// The refresh credential travels only in the cookie.
	assert.NotContains(t, rec.Body.String(), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.Secure)
	assert.Equal(t, int((24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"email":"ada@example.com","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Header().Get("Set-Cookie"), authflow.RefreshCookieName)
}

func TestHandleLogin_MalformedBody(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogin_MissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.c"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh_RotatesCookie(t *testing.T) {
	f := newHandlerFixture(t)
	rec, cookie := f.login(t)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	req.AddCookie(cookie)
	refreshRec := httptest.NewRecorder()
	f.router.ServeHTTP(refreshRec, req)

	require.Equal(t, http.StatusOK, refreshRec.Code, refreshRec.Body.String())

	var rotated *http.Cookie
	for _, c := range refreshRec.Result().Cookies() {
		if c.Name == authflow.RefreshCookieName {
			rotated = c
		}
	}
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// Replaying the dead credential is refused.
	replay := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	replay.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	replay.AddCookie(cookie)
	replayRec := httptest.NewRecorder()
	f.router.ServeHTTP(replayRec, replay)

	assert.Equal(t, http.StatusForbidden, replayRec.Code)
}

func TestHandleRefresh_MissingCookie(t *testing.T) {
	f := newHandlerFixture(t)
	rec, _ := f.login(t)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	refreshRec := httptest.NewRecorder()
	f.router.ServeHTTP(refreshRec, req)

	assert.Equal(t, http.StatusForbidden, refreshRec.Code)
}

func TestHandleRefresh_MissingBearer(t *testing.T) {
	f := newHandlerFixture(t)
	_, cookie := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookie)
	refreshRec := httptest.NewRecorder()
	f.router.ServeHTTP(refreshRec, req)

	assert.Equal(t, http.StatusUnauthorized, refreshRec.Code)
}

// principalHeaders sets the gateway's trusted header set for a logged-in user.
func (f *handlerFixture) principalHeaders(t *testing.T, rec *httptest.ResponseRecorder, req *http.Request) identity.Principal {
	t.Helper()
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := f.codec.Verify(resp.AccessToken)
	require.NoError(t, err)
	principal, err := claims.Principal()
	require.NoError(t, err)
	identity.SetHeaders(req.Header, principal)
	return principal
}

func TestHandleLogout_RevokesSessionAndClearsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	rec, _ := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	principal := f.principalHeaders(t, rec, req)
	logoutRec := httptest.NewRecorder()
	f.router.ServeHTTP(logoutRec, req)

	require.Equal(t, http.StatusOK, logoutRec.Code)
	assert.False(t, f.sessions.Validate(context.Background(), principal.SessionID))

	var cleared *http.Cookie
	for _, c := range logoutRec.Result().Cookies() {
		if c.Name == authflow.RefreshCookieName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestHandleLogout_WithoutPrincipal(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSessions_ListsDevices(t *testing.T) {
	f := newHandlerFixture(t)
	f.login(t)
	rec, _ := f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	current := f.principalHeaders(t, rec, req)
	sessionsRec := httptest.NewRecorder()
	f.router.ServeHTTP(sessionsRec, req)

	require.Equal(t, http.StatusOK, sessionsRec.Code)

	var body struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			Current   bool   `json:"current"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(sessionsRec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)

	currentCount := 0
	for _, s := range body.Sessions {
		if s.Current {
			currentCount++
			assert.Equal(t, current.SessionID.String(), s.SessionID)
		}
	}
	assert.Equal(t, 1, currentCount)
}

func TestHandleLogoutOthers_KeepsCurrentSession(t *testing.T) {
	f := newHandlerFixture(t)
	f.login(t)
	rec, _ := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-others", nil)
	current := f.principalHeaders(t, rec, req)
	othersRec := httptest.NewRecorder()
	f.router.ServeHTTP(othersRec, req)

	require.Equal(t, http.StatusOK, othersRec.Code)

	var body struct {
		RevokedCount int `json:"revoked_count"`
		FailedCount  int `json:"failed_count"`
	}
	require.NoError(t, json.Unmarshal(othersRec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.RevokedCount)
	assert.True(t, f.sessions.Validate(context.Background(), current.SessionID))
}

func TestHandleLogoutAll_RevokesEverythingAndClearsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	f.login(t)
	rec, _ := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	current := f.principalHeaders(t, rec, req)
	allRec := httptest.NewRecorder()
	f.router.ServeHTTP(allRec, req)

	require.Equal(t, http.StatusOK, allRec.Code)

	var body struct {
		RevokedCount int `json:"revoked_count"`
	}
	require.NoError(t, json.Unmarshal(allRec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.RevokedCount)
	assert.False(t, f.sessions.Validate(context.Background(), current.SessionID))

	found := false
	for _, c := range allRec.Result().Cookies() {
		if c.Name == authflow.RefreshCookieName {
			found = true
			assert.Negative(t, c.MaxAge)
		}
	}
	assert.True(t, found, "logout-all must clear the refresh cookie")
}
