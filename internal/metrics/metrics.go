package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsum"

var (
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "submissions_total", Help: "Document submissions by outcome (created, resubmitted, conflict)."},
		[]string{"outcome"},
	)
	JobsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "jobs_dispatched_total", Help: "Processing jobs enqueued."},
	)
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pipeline_runs_total", Help: "Processing pipeline runs by outcome (success, failed, dropped)."},
		[]string{"outcome"},
	)
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from PROCESSING to the final status write.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)
	RateLimitRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Submissions rejected by the rate limiter."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Submissions)
	reg.MustRegister(JobsDispatched)
	reg.MustRegister(PipelineRuns)
	reg.MustRegister(PipelineDuration)
	reg.MustRegister(RateLimitRejected)
}
