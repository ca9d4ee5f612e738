package opsdeck_streaming

import "time"

// aggregate partitions a flushed batch into contiguous chronological
// windows and synthesizes one point per window. The first window opens at
// the first point's timestamp; a point joins the open window while
// point.Timestamp - windowStart < windowSize, otherwise the window closes
// and a new one opens at that point. Windows are formed strictly in arrival
// order; the batch is never reordered.
func aggregate(points []DataPoint, windowSize time.Duration, functions []AggregateFunction) []DataPoint {
	if len(points) == 0 {
		return nil
	}

	windowMillis := windowSize.Milliseconds()
	out := make([]DataPoint, 0, 1)

	windowStart := points[0].Timestamp
	open := points[:1]
	for _, point := range points[1:] {
		if point.Timestamp-windowStart < windowMillis {
			open = append(open, point)
			continue
		}
		out = append(out, closeWindow(open, windowStart, windowSize, functions))
		windowStart = point.Timestamp
		open = []DataPoint{point}
	}
	out = append(out, closeWindow(open, windowStart, windowSize, functions))

	return out
}

// closeWindow computes every configured function over the window's values
// and yields the synthesized point. Non-numeric values coerce to 0 for the
// numeric aggregates.
func closeWindow(window []DataPoint, start MillisecondsUTC, windowSize time.Duration, functions []AggregateFunction) DataPoint {
	values := make([]float64, len(window))
	for i, point := range window {
		values[i], _ = toFloat(point.Value)
	}

	computed := make(map[string]float64, len(functions))
	for _, fn := range functions {
		switch fn {
		case AggregateAvg:
			computed[string(fn)] = sum(values) / float64(len(values))
		case AggregateSum:
			computed[string(fn)] = sum(values)
		case AggregateMin:
			computed[string(fn)] = extremum(values, func(a, b float64) bool { return a < b })
		case AggregateMax:
			computed[string(fn)] = extremum(values, func(a, b float64) bool { return a > b })
		case AggregateCount:
			computed[string(fn)] = float64(len(values))
		}
	}

	return DataPoint{
		Timestamp: start,
		Value:     computed,
		Metadata: Metadata{
			"aggregated": true,
			"windowSize": windowSize.Milliseconds(),
			"pointCount": len(window),
		},
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func extremum(values []float64, better func(a, b float64) bool) float64 {
	result := values[0]
	for _, v := range values[1:] {
		if better(v, result) {
			result = v
		}
	}
	return result
}
