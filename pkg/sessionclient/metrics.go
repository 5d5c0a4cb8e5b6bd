package sessionclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_client_refresh_calls_total",
			Help: "Refresh network calls issued by the session client",
		},
		[]string{"trigger", "result"},
	)

	refreshWaiters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_client_refresh_waiters_total",
			Help: "Callers that waited on a refresh, including the caller that started it",
		},
		[]string{"trigger"},
	)

	sessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_client_sessions_ended_total",
			Help: "Sessions ended because a refresh failed",
		},
	)
)
