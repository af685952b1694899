package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "citylens"

var (
	RunCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_created_total",
			Help:      "Total number of runs admitted and created.",
		},
	)

	RunCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_completed_total",
			Help:      "Total number of runs reaching a terminal status.",
		},
		[]string{"status"},
	)

	AdmissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Total number of run creations rejected before any state mutation.",
		},
		[]string{"reason"},
	)

	DispatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of worker job dispatch failures.",
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the demo rate limiter.",
		},
		[]string{"endpoint"},
	)

	ArtifactUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_uploaded_total",
			Help:      "Total number of artifacts uploaded by workers.",
		},
		[]string{"name"},
	)

	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration from run creation to terminal status (seconds).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RunCreatedTotal,
		RunCompletedTotal,
		AdmissionRejectedTotal,
		DispatchFailuresTotal,
		RateLimitHitsTotal,
		ArtifactUploadedTotal,
		RunDurationSeconds,
	)
}
