// Package metrics exposes Prometheus instrumentation for the
// deployment lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visgate_deployments_active",
		Help: "Deployments currently running through the lifecycle engine",
	})

	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visgate_deployments_total",
		Help: "Total deployments accepted, by terminal status",
	}, []string{"status"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "visgate_phase_duration_seconds",
		Help:    "Time spent in each lifecycle phase",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"phase"})

	GPUFallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visgate_gpu_fallback_attempts_total",
		Help: "Capacity-fallback attempts during endpoint creation, by tier",
	}, []string{"tier", "outcome"})

	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visgate_webhook_attempts_total",
		Help: "Webhook delivery attempts, by outcome",
	}, []string{"outcome"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visgate_webhook_duration_seconds",
		Help:    "Total time spent delivering a webhook, including retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visgate_provider_errors_total",
		Help: "Provider adapter errors, by class",
	}, []string{"class"})

	ReadinessPollLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visgate_readiness_poll_latency_seconds",
		Help:    "Time from deployment creation to the ready transition, observed via polling or callback",
		Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1200},
	})
)
