package opsdeck_streaming

// MillisecondsUTC represents a timestamp in milliseconds since Unix epoch (UTC).
type MillisecondsUTC = int64

// Metadata is a set of opaque key/value annotations attached to a data point.
type Metadata = map[string]any

// Tags is an ordered list of string labels for downstream classification.
type Tags = []string

// DataPoint is the atomic unit of telemetry carried by a stream. The
// timestamp is assigned at ingestion time and never mutated afterward. Value
// is opaque: a scalar, a structured record, or (for aggregated output) a
// mapping from aggregate-function name to computed number.
type DataPoint struct {
	Timestamp MillisecondsUTC `json:"timestamp"`
	Value     any             `json:"value"`
	Metadata  Metadata        `json:"metadata,omitempty"`
	Tags      Tags            `json:"tags,omitempty"`
}
