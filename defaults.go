package opsdeck_streaming

import "time"

// DefaultStreamConfigs is the fixed catalog of streams for the console's
// known telemetry categories. This is configuration data, not behavior; the
// registry provisions it verbatim.
func DefaultStreamConfigs() []StreamConfig {
	return []StreamConfig{
		{
			// Agent health metrics, condensed into short windows.
			Name:          "agent-metrics",
			Source:        SourceWebsocket,
			BufferSize:    100,
			FlushInterval: 5 * time.Second,
			Compression:   true,
			Aggregation: &AggregationConfig{
				Enabled:    true,
				WindowSize: 10 * time.Second,
				Functions:  []AggregateFunction{AggregateAvg, AggregateMax, AggregateCount},
			},
		},
		{
			// Incident events, unaggregated but restricted to the
			// severities the console surfaces immediately.
			Name:          "incident-events",
			Source:        SourceWebsocket,
			BufferSize:    50,
			FlushInterval: 2 * time.Second,
			Filtering: &FilteringConfig{
				Enabled: true,
				Conditions: []FilterCondition{
					{
						Field:    "value.severity",
						Operator: OperatorIn,
						Value:    []string{"high", "critical"},
					},
				},
			},
		},
		{
			// System performance samples arrive frequently; keep extrema
			// alongside the mean.
			Name:          "system-performance",
			Source:        SourceWebsocket,
			BufferSize:    200,
			FlushInterval: 3 * time.Second,
			Compression:   true,
			Aggregation: &AggregationConfig{
				Enabled:    true,
				WindowSize: 5 * time.Second,
				Functions:  []AggregateFunction{AggregateAvg, AggregateMin, AggregateMax},
			},
		},
		{
			// Financial snapshots are small and infrequent; pass through.
			Name:          "financial-snapshots",
			Source:        SourceWebsocket,
			BufferSize:    20,
			FlushInterval: 10 * time.Second,
		},
		{
			// Topology snapshots change rarely; tiny buffer, slow flush.
			Name:          "network-topology",
			Source:        SourceWebsocket,
			BufferSize:    10,
			FlushInterval: 15 * time.Second,
		},
	}
}
