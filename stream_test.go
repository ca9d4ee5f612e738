package opsdeck_streaming

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flushRecorder collects flushed batches from a handler goroutine-safely.
type flushRecorder struct {
	mu      sync.Mutex
	batches [][]DataPoint
}

func (r *flushRecorder) handler(points []DataPoint) {
	r.mu.Lock()
	r.batches = append(r.batches, points)
	r.mu.Unlock()
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *flushRecorder) batch(i int) []DataPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

func newTestStream(t *testing.T, config StreamConfig) (*Stream, *manualClock) {
	t.Helper()
	clock := newManualClock()
	stream := newStream(config, clock, zap.NewNop())
	stream.start()
	t.Cleanup(stream.Stop)
	return stream, clock
}

func TestStream_SizeThresholdFlush(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "threshold",
		BufferSize:    3,
		FlushInterval: time.Minute,
	})

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	stream.AddPoint("a", nil, nil)
	stream.AddPoint("b", nil, nil)
	require.Equal(t, 0, rec.count(), "flush must not fire below the threshold")

	stream.AddPoint("c", nil, nil)
	require.Equal(t, 1, rec.count(), "exactly one flush at the threshold")

	batch := rec.batch(0)
	require.Len(t, batch, 3)
	assert.Equal(t, "a", batch[0].Value)
	assert.Equal(t, "b", batch[1].Value)
	assert.Equal(t, "c", batch[2].Value)

	stats := stream.GetStats()
	assert.Equal(t, int64(3), stats.TotalPoints)
	assert.Equal(t, 0.0, stats.BufferUtilization, "utilization resets after flush")
	assert.NotZero(t, stats.LastFlush)
}

func TestStream_BufferNeverExceedsConfiguredSize(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "bounded",
		BufferSize:    5,
		FlushInterval: time.Minute,
	})
	stream.OnFlush(func([]DataPoint) {})

	for i := 0; i < 137; i++ {
		stream.AddPoint(i, nil, nil)
		stats := stream.GetStats()
		assert.LessOrEqual(t, stats.BufferUtilization, 1.0)
	}

	stream.mu.Lock()
	buffered := len(stream.buffer)
	stream.mu.Unlock()
	assert.Less(t, buffered, 5, "buffer length stays below the threshold after every AddPoint")
}

func TestStream_EmptyFlushIsNoOp(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "empty",
		BufferSize:    10,
		FlushInterval: time.Minute,
	})

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	before := stream.GetStats()
	stream.Flush()
	after := stream.GetStats()

	assert.Equal(t, 0, rec.count(), "empty flush must not emit an event")
	assert.Equal(t, before, after, "empty flush must not change statistics")
}

func TestStream_Filtering(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "filtered",
		BufferSize:    10,
		FlushInterval: time.Minute,
		Filtering: &FilteringConfig{
			Enabled: true,
			Conditions: []FilterCondition{
				{Field: "value.severity", Operator: OperatorIn, Value: []string{"high", "critical"}},
			},
		},
	})

	var pointEvents int
	stream.OnPoint(func(DataPoint) { pointEvents++ })

	stream.AddPoint(map[string]any{"severity": "low"}, nil, nil)
	stats := stream.GetStats()
	assert.Equal(t, int64(1), stats.FilteredPoints)
	assert.Equal(t, int64(0), stats.TotalPoints)
	assert.Equal(t, 0, pointEvents, "dropped points emit no event")

	stream.AddPoint(map[string]any{"severity": "high"}, nil, nil)
	stats = stream.GetStats()
	assert.Equal(t, int64(1), stats.FilteredPoints)
	assert.Equal(t, int64(1), stats.TotalPoints)
	assert.Equal(t, 1, pointEvents)
}

func TestStream_AggregatedFlush(t *testing.T) {
	stream, clock := newTestStream(t, StreamConfig{
		Name:          "aggregated",
		BufferSize:    100,
		FlushInterval: time.Minute,
		Aggregation: &AggregationConfig{
			Enabled:    true,
			WindowSize: 10 * time.Second,
			Functions:  []AggregateFunction{AggregateAvg, AggregateCount},
		},
	})

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	// Relative times 0, 1s, 2s, 11s: two windows under a 10s window size.
	stream.AddPoint(1.0, nil, nil)
	clock.Advance(time.Second)
	stream.AddPoint(2.0, nil, nil)
	clock.Advance(time.Second)
	stream.AddPoint(3.0, nil, nil)
	clock.Advance(9 * time.Second)
	stream.AddPoint(4.0, nil, nil)

	stream.Flush()

	require.Equal(t, 1, rec.count())
	batch := rec.batch(0)
	require.Len(t, batch, 2)

	first := batch[0].Value.(map[string]float64)
	assert.Equal(t, 3.0, first["count"])
	assert.Equal(t, 2.0, first["avg"])
	assert.Equal(t, true, batch[0].Metadata["aggregated"])

	second := batch[1].Value.(map[string]float64)
	assert.Equal(t, 1.0, second["count"])

	stats := stream.GetStats()
	assert.Equal(t, int64(2), stats.AggregatedPoints)
	assert.Equal(t, int64(4), stats.TotalPoints)
}

func TestStream_FlushTimer(t *testing.T) {
	config := StreamConfig{
		Name:          "timed",
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
	stream, clock := newTestStream(t, config)

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	stream.AddPoint(1.0, nil, nil)
	clock.ticker(config.FlushInterval).fire(clock.Now())

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, time.Millisecond, "flush timer must drain a partial buffer")
	require.Len(t, rec.batch(0), 1)
}

func TestStream_ConcurrentFlushesEmitInAcceptanceOrder(t *testing.T) {
	config := StreamConfig{
		Name:          "ordered",
		BufferSize:    3,
		FlushInterval: 5 * time.Second,
	}
	stream, clock := newTestStream(t, config)

	rec := &flushRecorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var stall sync.Once
	stream.OnFlush(func(points []DataPoint) {
		stall.Do(func() {
			close(entered)
			<-release
		})
		rec.handler(points)
	})

	stream.AddPoint("a", nil, nil)
	stream.AddPoint("b", nil, nil)

	// The interval flush drains [a b] and stalls inside the handler.
	clock.ticker(config.FlushInterval).fire(clock.Now())
	<-entered

	// Reaching the size threshold now must queue behind the in-flight
	// emission instead of overtaking it.
	sized := make(chan struct{})
	go func() {
		defer close(sized)
		stream.AddPoint("c", nil, nil)
		stream.AddPoint("d", nil, nil)
		stream.AddPoint("e", nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, rec.count(), "no batch completes while the first emission is stalled")

	close(release)
	<-sized
	require.Eventually(t, func() bool { return rec.count() == 2 },
		time.Second, time.Millisecond)

	first, second := rec.batch(0), rec.batch(1)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Value)
	assert.Equal(t, "b", first[1].Value)
	require.Len(t, second, 3)
	assert.Equal(t, "c", second[0].Value)
	assert.Equal(t, "e", second[2].Value)
}

func TestStream_RateTimer(t *testing.T) {
	stream, clock := newTestStream(t, StreamConfig{
		Name:          "rated",
		BufferSize:    1000,
		FlushInterval: time.Minute,
	})

	for i := 0; i < 50; i++ {
		stream.AddPoint(i, nil, nil)
	}

	rate := clock.ticker(time.Second)
	rate.fire(clock.Now())
	require.Eventually(t, func() bool { return stream.GetStats().PointsPerSecond == 50 },
		time.Second, time.Millisecond)

	rate.fire(clock.Now())
	require.Eventually(t, func() bool { return stream.GetStats().PointsPerSecond == 0 },
		time.Second, time.Millisecond, "an idle second resets the rate")
}

func TestStream_Clear(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "cleared",
		BufferSize:    10,
		FlushInterval: time.Minute,
	})

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	stream.AddPoint(1.0, nil, nil)
	stream.AddPoint(2.0, nil, nil)
	stream.Clear()

	assert.Equal(t, StreamStats{}, stream.GetStats(), "clear resets every statistic")

	stream.Flush()
	assert.Equal(t, 0, rec.count(), "cleared points are discarded, not flushed")
}

func TestStream_StopFlushesAndDetaches(t *testing.T) {
	clock := newManualClock()
	stream := newStream(StreamConfig{
		Name:          "stopping",
		BufferSize:    10,
		FlushInterval: time.Minute,
	}, clock, zap.NewNop())
	stream.start()

	rec := &flushRecorder{}
	stream.OnFlush(rec.handler)

	stream.AddPoint("pending", nil, nil)
	stream.Stop()

	require.Equal(t, 1, rec.count(), "stop performs a final flush")
	require.Len(t, rec.batch(0), 1)

	stream.AddPoint("late", nil, nil)
	assert.Equal(t, int64(1), stream.GetStats().TotalPoints, "a stopped stream rejects points")

	// Second stop is a no-op.
	stream.Stop()
	assert.Equal(t, 1, rec.count())
}

func TestStream_HandlerCancel(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "cancelable",
		BufferSize:    100,
		FlushInterval: time.Minute,
	})

	var calls int
	cancel := stream.OnPoint(func(DataPoint) { calls++ })

	stream.AddPoint(1, nil, nil)
	cancel()
	stream.AddPoint(2, nil, nil)

	assert.Equal(t, 1, calls)
}

func TestStream_ReportError(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "erroring",
		BufferSize:    10,
		FlushInterval: time.Minute,
	})

	stream.ReportError(errors.New("delivery failed"))
	stream.ReportError(nil)

	assert.Equal(t, int64(1), stream.GetStats().Errors, "nil errors are not counted")
}

func TestStream_StatsSnapshotIsDetached(t *testing.T) {
	stream, _ := newTestStream(t, StreamConfig{
		Name:          "snapshot",
		BufferSize:    10,
		FlushInterval: time.Minute,
	})

	stream.AddPoint(1, nil, nil)
	stats := stream.GetStats()
	stats.TotalPoints = 999

	assert.Equal(t, int64(1), stream.GetStats().TotalPoints, "mutating a snapshot must not affect the stream")
}
