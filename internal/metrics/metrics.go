// Package metrics holds the Prometheus collectors for code runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts runs and poll attempts. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	runs     *prometheus.CounterVec
	attempts prometheus.Histogram
	duration *prometheus.HistogramVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codepad",
			Name:      "runs_total",
			Help:      "Code runs by language and outcome.",
		}, []string{"language", "outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codepad",
			Name:      "poll_attempts",
			Help:      "Result fetch attempts per remote run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codepad",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time of a run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"language"}),
	}
	reg.MustRegister(r.runs, r.attempts, r.duration)
	return r
}

// Run records one finished run.
func (r *Recorder) Run(language, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(language, outcome).Inc()
	r.duration.WithLabelValues(language).Observe(seconds)
}

// PollAttempts records how many fetches a remote run needed.
func (r *Recorder) PollAttempts(n int) {
	if r == nil {
		return
	}
	r.attempts.Observe(float64(n))
}
