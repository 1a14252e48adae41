package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facepresence_sessions_started_total",
		Help: "Camera sessions successfully started.",
	})

	detectionTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facepresence_detection_ticks_total",
		Help: "Detection loop ticks by face presence.",
	}, []string{"present"})

	submissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facepresence_submissions_total",
		Help: "Completed submissions by outcome.",
	}, []string{"outcome"})
)
