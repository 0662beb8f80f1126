package authflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_auth_login_attempts_total",
		Help: "Login attempts by method and outcome",
	}, []string{"method", "outcome"})
	refreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_auth_refresh_attempts_total",
		Help: "Refresh attempts by outcome",
	}, []string{"outcome"})
	sessionsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_auth_sessions_revoked_total",
		Help: "Sessions revoked via logout and bulk revocation",
	})
)
