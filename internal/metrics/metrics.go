// Package metrics exposes Prometheus collectors for sharing operations and
// integrity sweeps.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aclsync_resources_total",
			Help: "Batch items by terminal state.",
		},
		[]string{"state"},
	)

	secretsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aclsync_secrets_created_total",
		Help: "Encrypted secret copies created.",
	})

	secretsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aclsync_secrets_deleted_total",
		Help: "Encrypted secret copies deleted.",
	})

	mismatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aclsync_mismatches_total",
		Help: "Resources whose secret holders differ from their effective readers.",
	})

	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aclsync_sweeps_total",
			Help: "Integrity sweeps by outcome.",
		},
		[]string{"outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aclsync_pipeline_duration_seconds",
			Help:    "Time spent per resource in each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(resourcesTotal, secretsCreated, secretsDeleted, mismatchesTotal, sweepsTotal, stageDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ResourceFinished(state string) {
	resourcesTotal.WithLabelValues(state).Inc()
}

func SecretsWritten(created, deleted int) {
	secretsCreated.Add(float64(created))
	secretsDeleted.Add(float64(deleted))
}

func Mismatch() {
	mismatchesTotal.Inc()
}

func Sweep(outcome string) {
	sweepsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the time since start for a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
