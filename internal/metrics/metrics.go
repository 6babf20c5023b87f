// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_ingest_requests_total",
		Help: "Ingest requests, by outcome (created, deduplicated, rejected, error)",
	}, []string{"outcome"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_dispatch_total",
		Help: "Worker dispatch attempts, by kind and result",
	}, []string{"kind", "result"})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_callbacks_total",
		Help: "Worker callbacks, by reported status and outcome",
	}, []string{"status", "outcome"})

	ProtocolViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carrot_protocol_violations_total",
		Help: "Callbacks proposing a terminal outcome that conflicts with the stored one",
	})

	TranscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_transcriptions_total",
		Help: "Finished transcription attempts, by backend and status",
	}, []string{"backend", "status"})

	TranscriptionBackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carrot_transcription_backend_duration_seconds",
		Help:    "Duration of calls to the transcription backend",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"backend"})

	SweepActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_sweep_actions_total",
		Help: "Rows changed by the reconciliation sweep, by action",
	}, []string{"action"})

	MediaAssetsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrot_media_assets_created_total",
		Help: "Media assets created, by source path (callback, backfill, upload)",
	}, []string{"path"})

	InFlightTranscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carrot_transcriptions_in_flight",
		Help: "Transcription attempts currently running",
	})
)
