package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	MessagesProcessed *prometheus.CounterVec
	MessagesSkipped   *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	Classifications   *prometheus.CounterVec
	ClassifyFailures  prometheus.Counter
	NotifySuccesses   *prometheus.CounterVec
	NotifyFailures    *prometheus.CounterVec
	FolderSyncs       *prometheus.CounterVec
	FolderSyncTime    prometheus.Histogram
	ProcessingTime    prometheus.Histogram
	EpochResets       prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

// NewMetrics registers the metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_messages_processed_total",
			Help: "Total number of messages indexed",
		}, []string{"account"}),
		MessagesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_messages_skipped_total",
			Help: "Total number of messages skipped for missing envelope, date or content",
		}, []string{"account"}),
		MessagesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_messages_failed_total",
			Help: "Total number of messages whose processing failed and will be retried",
		}, []string{"account", "stage"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_classifications_total",
			Help: "Total number of classified messages by label",
		}, []string{"label"}),
		ClassifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_aggregator_classify_failures_total",
			Help: "Total number of classification calls that fell back to the default label",
		}),
		NotifySuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_notify_successes_total",
			Help: "Total number of delivered notifications",
		}, []string{"notifier"}),
		NotifyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_notify_failures_total",
			Help: "Total number of failed notifications",
		}, []string{"notifier"}),
		FolderSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_aggregator_folder_syncs_total",
			Help: "Total number of folder sync runs by result",
		}, []string{"result"}),
		FolderSyncTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_aggregator_folder_sync_duration_seconds",
			Help:    "Time spent synchronizing one folder",
			Buckets: prometheus.DefBuckets,
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_aggregator_processing_duration_seconds",
			Help:    "Time spent processing one message",
			Buckets: prometheus.DefBuckets,
		}),
		EpochResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_aggregator_epoch_resets_total",
			Help: "Total number of cursors rewound after a UIDVALIDITY change",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail_aggregator_active_sessions",
			Help: "Number of accounts with a live connection",
		}),
	}
}
