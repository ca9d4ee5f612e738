package opsdeck_streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPointsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_stream_points_total",
		Help: "Points accepted into a stream buffer",
	}, []string{"stream"})

	metricPointsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_stream_filtered_points_total",
		Help: "Points rejected by a stream's filter chain",
	}, []string{"stream"})

	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_stream_flushes_total",
		Help: "Non-empty flushes by trigger (size, interval, manual, stop)",
	}, []string{"stream", "trigger"})

	metricFlushBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsdeck_stream_flush_batch_size",
		Help:    "Points emitted per flush, after aggregation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"stream"})

	metricReportedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsdeck_stream_errors_total",
		Help: "Ingestion failures reported by collaborators",
	}, []string{"stream"})
)
