package authflow_test

import (
	"context"
	"errors"

	"go.uber.org/mock/gomock"

	"huddle/internal/authflow"
	"huddle/internal/events"
	dErrors "huddle/pkg/domain-errors"
)

func (s *ServiceSuite) TestLogin_Success() {
	ctx := context.Background()
	user := s.activeUser("correct horse")

	s.mockUsers.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)
	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	pair, err := s.service.Login(ctx, user.Email, "correct horse", s.clientMeta())
	s.Require().NoError(err)

	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshCredential)
	s.Equal(user.ID, pair.Principal.UserID)
	s.Equal(user.Email, pair.Principal.Email)

	// The minted token verifies and carries the new session.
	claims, err := s.codec.Verify(pair.AccessToken)
	s.Require().NoError(err)
	s.Equal(pair.Principal.SessionID.String(), claims.SessionID)

	// The session is live and bound to the refresh credential.
	s.True(s.sessions.Validate(ctx, pair.Principal.SessionID))
	s.True(s.sessions.ValidateWithRefresh(ctx, pair.Principal.SessionID, pair.RefreshCredential))
}

func (s *ServiceSuite) TestLogin_UnknownUser() {
	ctx := context.Background()

	s.mockUsers.EXPECT().FindByEmail(ctx, "ghost@example.com").
		Return(nil, dErrors.New(dErrors.CodeNotFound, "user not found"))

	_, err := s.service.Login(ctx, "ghost@example.com", "whatever", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestLogin_WrongPassword() {
	ctx := context.Background()
	user := s.activeUser("correct horse")

	s.mockUsers.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)

	_, err := s.service.Login(ctx, user.Email, "battery staple", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestLogin_SuspendedAccount() {
	ctx := context.Background()
	user := s.activeUser("correct horse")
	user.Status = authflow.UserStatusSuspended

	s.mockUsers.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)

	_, err := s.service.Login(ctx, user.Email, "correct horse", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAccountInactive))
}

func (s *ServiceSuite) TestGoogleLogin_ExistingUser() {
	ctx := context.Background()
	user := s.activeUser("unused")

	s.mockGoogle.EXPECT().Verify(ctx, "google-id-token").Return(authflow.Identity{
		Subject:  "google-subject-1",
		Email:    user.Email,
		FullName: user.FullName,
	}, nil)
	s.mockUsers.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)
	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	pair, err := s.service.GoogleLogin(ctx, "google-id-token", s.clientMeta())
	s.Require().NoError(err)
	s.Equal(user.ID, pair.Principal.UserID)
}

func (s *ServiceSuite) TestGoogleLogin_ProvisionsNewUser() {
	ctx := context.Background()

	s.mockGoogle.EXPECT().Verify(ctx, "google-id-token").Return(authflow.Identity{
		Subject:  "google-subject-2",
		Email:    "new@example.com",
		FullName: "New Person",
	}, nil)
	s.mockUsers.EXPECT().FindByEmail(ctx, "new@example.com").
		Return(nil, dErrors.New(dErrors.CodeNotFound, "user not found"))
	s.mockUsers.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, user *authflow.User) error {
			s.Equal("new@example.com", user.Email)
			s.Equal("MEMBER", user.Role)
			s.Equal("google-subject-2", user.GoogleSubject)
			s.Equal(authflow.UserStatusActive, user.Status)
			return nil
		})
	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	pair, err := s.service.GoogleLogin(ctx, "google-id-token", s.clientMeta())
	s.Require().NoError(err)
	s.Equal("new@example.com", pair.Principal.Email)
}

func (s *ServiceSuite) TestGoogleLogin_InvalidToken() {
	ctx := context.Background()

	s.mockGoogle.EXPECT().Verify(ctx, "bad-token").
		Return(authflow.Identity{}, dErrors.New(dErrors.CodeFederatedTokenInvalid, "invalid ID token"))

	_, err := s.service.GoogleLogin(ctx, "bad-token", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFederatedTokenInvalid))
}

// login opens a session for the suite's pinned user.
func (s *ServiceSuite) login() *authflow.TokenPair {
	ctx := context.Background()

	s.mockUsers.EXPECT().FindByEmail(ctx, s.user.Email).Return(s.user, nil)
	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	pair, err := s.service.Login(ctx, s.user.Email, "correct horse", s.clientMeta())
	s.Require().NoError(err)
	return pair
}

func (s *ServiceSuite) TestRefresh_RotatesCredential() {
	ctx := context.Background()
	pair := s.login()

	refreshed, err := s.service.Refresh(ctx, pair.AccessToken, pair.RefreshCredential)
	s.Require().NoError(err)

	// Same session, new token, new credential.
	s.Equal(pair.Principal.SessionID, refreshed.Principal.SessionID)
	s.NotEqual(pair.AccessToken, refreshed.AccessToken)
	s.NotEqual(pair.RefreshCredential, refreshed.RefreshCredential)

	// The presented credential died with the rotation: replay fails.
	_, err = s.service.Refresh(ctx, pair.AccessToken, pair.RefreshCredential)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRefreshMismatch))

	// The rotated credential works.
	_, err = s.service.Refresh(ctx, refreshed.AccessToken, refreshed.RefreshCredential)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestRefresh_WrongCredential() {
	ctx := context.Background()
	pair := s.login()

	_, err := s.service.Refresh(ctx, pair.AccessToken, "forged-credential")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRefreshMismatch))

	// The real credential still works; a failed attempt does not rotate.
	_, err = s.service.Refresh(ctx, pair.AccessToken, pair.RefreshCredential)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestRefresh_RevokedSession() {
	ctx := context.Background()
	pair := s.login()

	s.Require().NoError(s.sessions.Revoke(ctx, pair.Principal.UserID, pair.Principal.SessionID))

	_, err := s.service.Refresh(ctx, pair.AccessToken, pair.RefreshCredential)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRefreshMismatch))
}

func (s *ServiceSuite) TestRefresh_GarbageToken() {
	_, err := s.service.Refresh(context.Background(), "not.a.token", "whatever")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenInvalid))
}

func (s *ServiceSuite) TestLogout_RevokesSession() {
	ctx := context.Background()
	pair := s.login()

	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	s.Require().NoError(s.service.Logout(ctx, pair.Principal))

	// The unexpired access token is now useless at every trust boundary.
	s.False(s.sessions.Validate(ctx, pair.Principal.SessionID))
}

func (s *ServiceSuite) TestSessions_MarksCurrent() {
	ctx := context.Background()
	first := s.login()
	second := s.login()
	s.Require().Equal(first.Principal.UserID, second.Principal.UserID)

	summaries, err := s.service.Sessions(ctx, second.Principal)
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)

	currentCount := 0
	for _, summary := range summaries {
		if summary.Current {
			currentCount++
			s.Equal(second.Principal.SessionID, summary.SessionID)
		}
		s.NotEmpty(summary.DeviceInfo)
	}
	s.Equal(1, currentCount)
}

func (s *ServiceSuite) TestLogoutAll_RevokesEverything() {
	ctx := context.Background()
	first := s.login()
	second := s.login()

	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	result, err := s.service.LogoutAll(ctx, second.Principal)
	s.Require().NoError(err)
	s.Equal(2, result.RevokedCount)
	s.Equal(0, result.FailedCount)

	s.False(s.sessions.Validate(ctx, first.Principal.SessionID))
	s.False(s.sessions.Validate(ctx, second.Principal.SessionID))
}

func (s *ServiceSuite) TestLogoutOthers_KeepsCurrent() {
	ctx := context.Background()
	first := s.login()
	second := s.login()

	s.mockDispatcher.EXPECT().Publish(ctx, gomock.AssignableToTypeOf(events.Event{}))

	result, err := s.service.LogoutOthers(ctx, second.Principal)
	s.Require().NoError(err)
	s.Equal(1, result.RevokedCount)

	s.False(s.sessions.Validate(ctx, first.Principal.SessionID))
	s.True(s.sessions.Validate(ctx, second.Principal.SessionID))
}

func (s *ServiceSuite) TestLogoutOthers_NoOtherSessions() {
	ctx := context.Background()
	pair := s.login()

	// No event is published when nothing was revoked.
	result, err := s.service.LogoutOthers(ctx, pair.Principal)
	s.Require().NoError(err)
	s.Equal(0, result.RevokedCount)
}

func (s *ServiceSuite) TestLogin_SessionStoreFailure() {
	ctx := context.Background()
	user := s.activeUser("correct horse")

	failing := &failingSessionStore{err: errors.New("redis: connection refused")}
	service := authflow.New(s.mockUsers, failing, s.codec, nil, s.mockDispatcher, discardLogger(), authflow.Config{})

	s.mockUsers.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)

	_, err := service.Login(ctx, user.Email, "correct horse", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestGoogleLogin_NotConfigured() {
	service := authflow.New(s.mockUsers, s.sessions, s.codec, nil, s.mockDispatcher, discardLogger(), authflow.Config{})

	_, err := service.GoogleLogin(context.Background(), "token", s.clientMeta())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFederatedTokenInvalid))
}

func (s *ServiceSuite) TestLogin_SameUserEachCall() {
	// Guard against the login helper drifting: every call must mint a new
	// session for the same user id.
	first := s.login()
	second := s.login()
	s.Equal(first.Principal.UserID, second.Principal.UserID)
	s.NotEqual(first.Principal.SessionID, second.Principal.SessionID)
}
