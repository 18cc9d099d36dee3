package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline.
type Metrics struct {
	RunsStarted      *prometheus.CounterVec
	RunsFinished     *prometheus.CounterVec
	CategoryDuration *prometheus.HistogramVec
	PagesScanned     prometheus.Histogram
	DedupSuppressed  *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	ClaimOutcomes    *prometheus.CounterVec
}

// New creates and registers all audit pipeline metrics.
func New() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecheck_audit_runs_started_total",
			Help: "Audit runs started, by tier",
		}, []string{"tier"}),
		RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecheck_audit_runs_finished_total",
			Help: "Audit runs finished, by terminal status and tier",
		}, []string{"status", "tier"}),
		CategoryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecheck_audit_category_duration_seconds",
			Help:    "Duration of one category analysis task",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 420},
		}, []string{"category"}),
		PagesScanned: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitecheck_audit_pages_scanned",
			Help:    "Pages analyzed per run",
			Buckets: []float64{1, 2, 5, 10, 20},
		}),
		DedupSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecheck_audit_dedup_suppressed_total",
			Help: "Findings suppressed by deduplication, by reason",
		}, []string{"reason"}),
		QuotaDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecheck_audit_quota_denials_total",
			Help: "Audit requests denied by the quota guard, by reason",
		}, []string{"reason"}),
		ClaimOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecheck_audit_claim_total",
			Help: "Claim attempts, by outcome",
		}, []string{"outcome"}),
	}
}
