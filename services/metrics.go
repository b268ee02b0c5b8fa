package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_events_routed_total",
			Help: "Total number of push events mapped to domain events",
		},
		[]string{"event"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_events_dropped_total",
			Help: "Total number of push events dropped before reaching a collection",
		},
		[]string{"reason"},
	)

	transitionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_transitions_rejected_total",
			Help: "Total number of illegal status transitions ignored",
		},
		[]string{"role"},
	)

	staleOverwritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_stale_overwrites_total",
			Help: "Total number of refresh entries discarded because an event was newer",
		},
		[]string{"role"},
	)

	fetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_fetch_failures_total",
			Help: "Total number of failed bulk fetches",
		},
		[]string{"role"},
	)

	reconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resq_reconnect_attempts_total",
			Help: "Total number of push channel reconnect attempts",
		},
	)

	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resq_connection_state",
			Help: "Push channel state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed",
		},
	)
)
