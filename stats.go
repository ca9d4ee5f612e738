package opsdeck_streaming

// StreamStats is a snapshot of one stream's running statistics. GetStats
// returns a copy; mutating it has no effect on the stream.
type StreamStats struct {
	// TotalPoints counts points accepted into the buffer. Filtered-out
	// points are excluded.
	TotalPoints int64 `json:"totalPoints"`

	// PointsPerSecond is the acceptance count of the most recently
	// completed one-second interval.
	PointsPerSecond int64 `json:"pointsPerSecond"`

	// BufferUtilization is len(buffer) / bufferSize, reset to 0 after
	// every flush.
	BufferUtilization float64 `json:"bufferUtilization"`

	// LastFlush is the timestamp of the last non-empty flush, zero until
	// the first one.
	LastFlush MillisecondsUTC `json:"lastFlush"`

	// Errors counts ingestion failures reported by collaborators (cache
	// writes, transport decodes). The buffering path itself never
	// increments it.
	Errors int64 `json:"errors"`

	// AggregatedPoints is the cumulative count of synthesized points
	// produced by windowed aggregation.
	AggregatedPoints int64 `json:"aggregatedPoints"`

	// FilteredPoints is the cumulative count of points rejected by the
	// filter chain.
	FilteredPoints int64 `json:"filteredPoints"`
}
