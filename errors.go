package opsdeck_streaming

import "errors"

// Common errors returned by the registry.
var (
	// ErrDuplicateStream is returned when creating a stream whose name is
	// already registered.
	ErrDuplicateStream = errors.New("stream name already registered")

	// ErrUnknownOperator is returned when a filter condition uses an operator
	// outside the supported set.
	ErrUnknownOperator = errors.New("unknown filter operator")

	// ErrUnknownAggregateFunction is returned when an aggregation config
	// names a function outside the supported set.
	ErrUnknownAggregateFunction = errors.New("unknown aggregate function")
)
