package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditrisk_events_analyzed_total",
		Help: "Events that went through the full analysis pipeline",
	})

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_rows_skipped_total",
			Help: "Rows not analyzed, by reason",
		},
		[]string{"reason"},
	)

	RiskScoreHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditrisk_risk_scores",
		Help:    "Distribution of combined risk scores",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	AnomalyFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_anomaly_flags_total",
			Help: "Anomaly flags raised, by flag",
		},
		[]string{"flag"},
	)

	CompromisedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditrisk_compromised_events_total",
		Help: "Events marked compromised",
	})

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_alerts_total",
			Help: "Webhook alerts for compromised events, by result",
		},
		[]string{"result"},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_batches_total",
			Help: "Batches closed, by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditrisk_stage_duration_seconds",
			Help:    "Time spent per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"stage"},
	)
)
