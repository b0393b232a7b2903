// Package metrics exposes Prometheus instrumentation for hot backups.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeInterrupted = "interrupted"
	OutcomeSetupError  = "setup_error"
)

var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotbackup_sessions_total",
			Help: "Total number of backup sessions by outcome",
		},
		[]string{"outcome"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotbackup_session_duration_seconds",
			Help:    "Duration of backup sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s .. ~9h
		},
	)

	SessionsOverlapping = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotbackup_sessions_overlapping_total",
			Help: "Times a session became current while another session was still current",
		},
	)

	BytesDone = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotbackup_bytes_done",
			Help: "Bytes copied by the current backup session",
		},
	)

	FilesDone = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotbackup_files_done",
			Help: "Files completed by the current backup session",
		},
	)

	FilesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotbackup_files_total",
			Help: "Files known to the current backup session",
		},
	)

	UnrecognizedProgress = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotbackup_unrecognized_progress_total",
			Help: "Progress lines from the engine that matched no known template",
		},
	)

	EngineErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotbackup_engine_errors_total",
			Help: "Errors reported by the backup engine",
		},
	)

	ThrottleBytesPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotbackup_throttle_bytes_per_second",
			Help: "Throttle last applied to the backup engine (0 = unlimited)",
		},
	)
)
