package opsdeck_streaming

import (
	"fmt"
	"time"
)

// StreamSource classifies where a stream's points originate.
type StreamSource string

const (
	// SourceWebsocket marks a stream fed by the websocket transport; the
	// registry subscribes a channel named after the stream and forwards
	// every inbound envelope into AddPoint.
	SourceWebsocket StreamSource = "websocket"

	// SourceInternal marks a caller-driven stream: points arrive only
	// through direct AddPoint calls.
	SourceInternal StreamSource = "internal"
)

// AggregateFunction names a per-window computation.
type AggregateFunction string

const (
	AggregateAvg   AggregateFunction = "avg"
	AggregateSum   AggregateFunction = "sum"
	AggregateMin   AggregateFunction = "min"
	AggregateMax   AggregateFunction = "max"
	AggregateCount AggregateFunction = "count"
)

// FilterOperator names a comparison applied by a filter condition.
type FilterOperator string

const (
	OperatorEq       FilterOperator = "eq"
	OperatorNe       FilterOperator = "ne"
	OperatorGt       FilterOperator = "gt"
	OperatorLt       FilterOperator = "lt"
	OperatorGte      FilterOperator = "gte"
	OperatorLte      FilterOperator = "lte"
	OperatorIn       FilterOperator = "in"
	OperatorContains FilterOperator = "contains"
)

// FilterCondition retains a point only when the value at Field (a
// dot-separated path resolved against the point) compares true against
// Value under Operator. A missing field resolves to undefined and compares
// under the operator's normal semantics.
type FilterCondition struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// FilteringConfig gates ingestion: all conditions must pass (logical AND)
// for a point to enter the buffer.
type FilteringConfig struct {
	Enabled    bool              `json:"enabled"`
	Conditions []FilterCondition `json:"conditions"`
}

// AggregationConfig folds each flushed batch into fixed time windows, one
// synthesized point per window.
type AggregationConfig struct {
	Enabled    bool                `json:"enabled"`
	WindowSize time.Duration       `json:"windowSize"`
	Functions  []AggregateFunction `json:"functions"`
}

// StreamConfig declares one stream's buffering, filtering, and aggregation
// behavior.
type StreamConfig struct {
	Name          string        `json:"name"`
	Source        StreamSource  `json:"source"`
	BufferSize    int           `json:"bufferSize"`
	FlushInterval time.Duration `json:"flushInterval"`

	// Compression is a hint forwarded to transport/cache collaborators; it
	// has no effect on buffering itself.
	Compression bool `json:"compression"`

	Aggregation *AggregationConfig `json:"aggregation,omitempty"`
	Filtering   *FilteringConfig   `json:"filtering,omitempty"`
}

func (c StreamConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("stream name cannot be empty")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("stream %q: buffer size must be positive, got %d", c.Name, c.BufferSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("stream %q: flush interval must be positive, got %v", c.Name, c.FlushInterval)
	}
	if agg := c.Aggregation; agg != nil && agg.Enabled {
		if agg.WindowSize <= 0 {
			return fmt.Errorf("stream %q: aggregation window must be positive, got %v", c.Name, agg.WindowSize)
		}
		if len(agg.Functions) == 0 {
			return fmt.Errorf("stream %q: aggregation enabled with no functions", c.Name)
		}
		for _, fn := range agg.Functions {
			switch fn {
			case AggregateAvg, AggregateSum, AggregateMin, AggregateMax, AggregateCount:
			default:
				return fmt.Errorf("stream %q: %w: %q", c.Name, ErrUnknownAggregateFunction, fn)
			}
		}
	}
	if f := c.Filtering; f != nil && f.Enabled {
		for i, cond := range f.Conditions {
			if cond.Field == "" {
				return fmt.Errorf("stream %q: filter condition %d has empty field", c.Name, i)
			}
			switch cond.Operator {
			case OperatorEq, OperatorNe, OperatorGt, OperatorLt, OperatorGte, OperatorLte, OperatorIn, OperatorContains:
			default:
				return fmt.Errorf("stream %q: %w: %q", c.Name, ErrUnknownOperator, cond.Operator)
			}
		}
	}
	return nil
}
