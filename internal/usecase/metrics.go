package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

var (
	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidguard",
		Name:      "signals_total",
		Help:      "Change signals delivered to the engine, by kind.",
	}, []string{"kind"})
	metricGraceStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kidguard",
		Name:      "grace_started_total",
		Help:      "Grace periods started for disallowed packages.",
	})
	metricGraceResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidguard",
		Name:      "grace_resolved_total",
		Help:      "Grace checks that fired, by outcome.",
	}, []string{"outcome"})
	metricRemediations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidguard",
		Name:      "remediations_total",
		Help:      "Return-to-home attempts, by reason.",
	}, []string{"reason"})
	metricForegroundUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidguard",
		Name:      "foreground_unknown_total",
		Help:      "Foreground reads that resolved to unknown, by cause.",
	}, []string{"cause"})
)

const (
	outcomeRemediated     = "remediated"
	outcomeLeftForeground = "left_foreground"
	outcomeAllowed        = "allowed"
	outcomeKidModeOff     = "kid_mode_off"
)

func recordSignal(kind domain.SignalKind) {
	metricSignals.WithLabelValues(string(kind)).Inc()
}

func recordGraceResolved(outcome string) {
	metricGraceResolved.WithLabelValues(outcome).Inc()
}

func recordRemediation(reason domain.RemediationReason) {
	metricRemediations.WithLabelValues(string(reason)).Inc()
}

func recordForegroundUnknown(cause string) {
	metricForegroundUnknown.WithLabelValues(cause).Inc()
}
