package crmsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_sync_runs_total",
		Help: "Completed sync runs by provider and outcome (success, failed, reconnect_required)",
	}, []string{"provider", "outcome"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_sync_run_duration_seconds",
		Help:    "Wall time of sync runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"provider"})

	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_sync_records_total",
		Help: "Records handled by sync runs by entity and result (created, updated, errors, skipped)",
	}, []string{"provider", "entity", "result"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_provider_call_duration_seconds",
		Help:    "Latency of provider API calls including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})

	ProviderCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_provider_call_errors_total",
		Help: "Failed provider API calls by failure kind",
	}, []string{"provider", "kind"})

	SyncJobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_sync_jobs_enqueued_total",
		Help: "Sync jobs created by trigger source (manual, auto)",
	}, []string{"trigger"})
)

func observeStats(provider string, stats Stats) {
	for entity, s := range map[string]EntityStats{
		"donors":       stats.Donors,
		"donations":    stats.Donations,
		"interactions": stats.Interactions,
	} {
		SyncRecords.WithLabelValues(provider, entity, "created").Add(float64(s.Created))
		SyncRecords.WithLabelValues(provider, entity, "updated").Add(float64(s.Updated))
		SyncRecords.WithLabelValues(provider, entity, "errors").Add(float64(s.Errors))
		SyncRecords.WithLabelValues(provider, entity, "skipped").Add(float64(s.Skipped))
	}
}
