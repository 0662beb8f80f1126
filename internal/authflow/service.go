// Package authflow orchestrates the authentication state machine: login,
// federated login, refresh with rotation, and revocation in all its forms.
package authflow

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"huddle/internal/device"
	"huddle/internal/events"
	"huddle/internal/identity"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

// GoogleVerifier validates a federated ID token and returns the asserted identity.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// Identity is the externally asserted identity from a federated provider.
type Identity struct {
	Subject  string
	Email    string
	FullName string
}

// Dispatcher is the event publication seam; satisfied by *events.Dispatcher.
type Dispatcher interface {
	Publish(ctx context.Context, event events.Event)
}

// ClientMeta carries per-request client context captured at the transport layer.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Config holds the flow's lifetimes.
type Config struct {
	SessionTTL time.Duration
	RefreshTTL time.Duration
}

// TokenPair is what a successful login or refresh hands back. The refresh
// credential travels only in an HttpOnly cookie, never in a JSON body; the
// handler enforces that split.
type TokenPair struct {
	AccessToken       string
	RefreshCredential string
	ExpiresIn         time.Duration
	Principal         identity.Principal
}

// SessionSummary describes one live session for the management UI.
type SessionSummary struct {
	SessionID      domain.SessionID
	DeviceInfo     string
	ClientIP       string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Current        bool
}

// RevocationResult reports a bulk revocation's outcome. Partial failure is
// reported, not escalated: revoking most sessions beats revoking none.
type RevocationResult struct {
	RevokedCount int
	FailedCount  int
}

// Service implements the auth flow state machine over its collaborators.
type Service struct {
	users      UserStore
	sessions   session.Store
	codec      *token.Codec
	google     GoogleVerifier
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        Config
}

// New wires the auth flow service. google may be nil when federated login is
// not configured.
func New(users UserStore, sessions session.Store, codec *token.Codec, google GoogleVerifier, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		codec:      codec,
		google:     google,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Login authenticates an email/password pair and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (*TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		loginAttempts.WithLabelValues("password", "unknown_user").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown user")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		loginAttempts.WithLabelValues("password", "bad_credential").Inc()
		s.logger.WarnContext(ctx, "login rejected: bad credential", "email", email)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	pair, err := s.openSession(ctx, user, meta)
	if err != nil {
		loginAttempts.WithLabelValues("password", "error").Inc()
		return nil, err
	}
	loginAttempts.WithLabelValues("password", "success").Inc()
	return pair, nil
}

// GoogleLogin authenticates a federated ID token, provisioning the user on
// first login.
func (s *Service) GoogleLogin(ctx context.Context, idToken string, meta ClientMeta) (*TokenPair, error) {
	if s.google == nil {
		return nil, dErrors.New(dErrors.CodeFederatedTokenInvalid, "federated login not configured")
	}

	asserted, err := s.google.Verify(ctx, idToken)
	if err != nil {
		loginAttempts.WithLabelValues("google", "invalid_token").Inc()
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, asserted.Email)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		user = &User{
			ID:            domain.NewUserID(),
			Email:         asserted.Email,
			FullName:      asserted.FullName,
			Role:          identity.RoleMember,
			GoogleSubject: asserted.Subject,
			Status:        UserStatusActive,
		}
		if err := s.users.Create(ctx, user); err != nil {
			loginAttempts.WithLabelValues("google", "error").Inc()
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision federated user")
		}
		s.logger.InfoContext(ctx, "provisioned user from federated login", "email", asserted.Email)
	} else if err != nil {
		loginAttempts.WithLabelValues("google", "error").Inc()
		return nil, err
	}

	pair, err := s.openSession(ctx, user, meta)
	if err != nil {
		loginAttempts.WithLabelValues("google", "error").Inc()
		return nil, err
	}
	loginAttempts.WithLabelValues("google", "success").Inc()
	return pair, nil
}

// openSession is the shared tail of both login paths: status check, session
// creation, token mint, event publish.
func (s *Service) openSession(ctx context.Context, user *User, meta ClientMeta) (*TokenPair, error) {
	if user.Status != UserStatusActive {
		return nil, dErrors.New(dErrors.CodeAccountInactive, "account is not active")
	}

	refreshCredential, err := token.NewRefreshCredential()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh credential")
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:                domain.NewSessionID(),
		UserID:            user.ID,
		RefreshCredential: refreshCredential,
		DeviceInfo:        device.Describe(meta.UserAgent),
		ClientIP:          meta.IP,
		CreatedAt:         now,
		LastAccessedAt:    now,
	}
	if err := s.sessions.Create(ctx, sess, s.cfg.SessionTTL); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	principal := user.Principal(sess.ID)
	accessToken, err := s.codec.IssueAccessToken(principal, sess.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}

	event := events.NewEvent(events.TypeUserLoggedIn, principal)
	event.Description = "signed in"
	event.Metadata = map[string]string{
		"device": sess.DeviceInfo,
		"ip":     sess.ClientIP,
	}
	s.dispatcher.Publish(ctx, event)

	s.logger.InfoContext(ctx, "session created",
		"user_id", user.ID.String(),
		"session_id", sess.ID.String(),
		"device", sess.DeviceInfo,
	)

	return &TokenPair{
		AccessToken:       accessToken,
		RefreshCredential: refreshCredential,
		ExpiresIn:         s.codec.TTL(),
		Principal:         principal,
	}, nil
}

// Refresh exchanges a (possibly expired) access token plus the refresh cookie
// value for a fresh pair. The session id never changes on refresh; only
// login creates sessions. Rotation means the presented credential dies here:
// replaying it after this call fails with refresh_mismatch.
func (s *Service) Refresh(ctx context.Context, staleAccessToken, presentedCredential string) (*TokenPair, error) {
	claims, err := s.codec.ClaimsIgnoringExpiry(staleAccessToken)
	if err != nil {
		refreshAttempts.WithLabelValues("invalid_token").Inc()
		return nil, err
	}
	principal, err := claims.Principal()
	if err != nil {
		refreshAttempts.WithLabelValues("invalid_token").Inc()
		return nil, err
	}

	if !s.sessions.ValidateWithRefresh(ctx, principal.SessionID, presentedCredential) {
		refreshAttempts.WithLabelValues("mismatch").Inc()
		s.logger.WarnContext(ctx, "refresh rejected: credential mismatch or dead session",
			"user_id", principal.UserID.String(),
			"session_id", principal.SessionID.String(),
		)
		return nil, dErrors.New(dErrors.CodeRefreshMismatch, "refresh credential invalid")
	}

	newCredential, err := token.NewRefreshCredential()
	if err != nil {
		refreshAttempts.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh credential")
	}
	if err := s.sessions.Rotate(ctx, principal.SessionID, newCredential, s.cfg.SessionTTL); err != nil {
		refreshAttempts.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate session")
	}

	accessToken, err := s.codec.IssueAccessToken(principal, principal.SessionID)
	if err != nil {
		refreshAttempts.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}

	refreshAttempts.WithLabelValues("success").Inc()
	return &TokenPair{
		AccessToken:       accessToken,
		RefreshCredential: newCredential,
		ExpiresIn:         s.codec.TTL(),
		Principal:         principal,
	}, nil
}

// Logout deletes the principal's session. The access token becomes useless
// on the next trust-boundary check even though it has not expired.
func (s *Service) Logout(ctx context.Context, p identity.Principal) error {
	if err := s.sessions.Revoke(ctx, p.UserID, p.SessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	sessionsRevoked.Inc()

	event := events.NewEvent(events.TypeUserLoggedOut, p)
	event.Description = "signed out"
	s.dispatcher.Publish(ctx, event)
	return nil
}

// Sessions lists every live session for the principal, marking the current one.
func (s *Service) Sessions(ctx context.Context, p identity.Principal) ([]SessionSummary, error) {
	live, err := s.sessions.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	summaries := make([]SessionSummary, 0, len(live))
	for _, sess := range live {
		summaries = append(summaries, SessionSummary{
			SessionID:      sess.ID,
			DeviceInfo:     sess.DeviceInfo,
			ClientIP:       sess.ClientIP,
			CreatedAt:      sess.CreatedAt,
			LastAccessedAt: sess.LastAccessedAt,
			Current:        sess.ID == p.SessionID,
		})
	}
	return summaries, nil
}

// LogoutAll revokes every session for the principal ("log out everywhere").
// Individual failures are counted and skipped so one bad record cannot block
// the rest.
func (s *Service) LogoutAll(ctx context.Context, p identity.Principal) (*RevocationResult, error) {
	return s.bulkRevoke(ctx, p, false)
}

// LogoutOthers revokes every session except the current one.
func (s *Service) LogoutOthers(ctx context.Context, p identity.Principal) (*RevocationResult, error) {
	return s.bulkRevoke(ctx, p, true)
}

func (s *Service) bulkRevoke(ctx context.Context, p identity.Principal, keepCurrent bool) (*RevocationResult, error) {
	live, err := s.sessions.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	result := &RevocationResult{}
	for _, sess := range live {
		if keepCurrent && sess.ID == p.SessionID {
			continue
		}
		if err := s.sessions.Revoke(ctx, p.UserID, sess.ID); err != nil {
			result.FailedCount++
			s.logger.ErrorContext(ctx, "failed to revoke session during bulk revocation",
				"error", err,
				"session_id", sess.ID.String(),
				"user_id", p.UserID.String(),
			)
			continue
		}
		result.RevokedCount++
		sessionsRevoked.Inc()
	}

	if result.RevokedCount > 0 {
		event := events.NewEvent(events.TypeSessionsRevoked, p)
		event.Description = "revoked sessions on other devices"
		if !keepCurrent {
			event.Description = "revoked all sessions"
		}
		s.dispatcher.Publish(ctx, event)
	}
	return result, nil
}
