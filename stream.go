package opsdeck_streaming

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PointHandler observes accepted points, one call per point, in acceptance
// order.
type PointHandler func(point DataPoint)

// FlushHandler observes flushed batches. When aggregation is enabled the
// batch contains the synthesized per-window points, otherwise the raw
// buffer snapshot in arrival order.
type FlushHandler func(points []DataPoint)

// Flush triggers, used as the trigger label on flush metrics.
const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerManual   = "manual"
	triggerStop     = "stop"
)

// Stream owns a bounded buffer of data points and drains it on either a
// size threshold or a periodic timer. A second timer tracks the per-second
// acceptance rate. Streams are created by a Registry and run until Stop.
type Stream struct {
	config StreamConfig
	filter filterChain
	clock  Clock
	logger *zap.Logger

	closeChan chan struct{}
	done      chan struct{}

	// emitMu serializes drain-and-emit cycles so batches reach flush
	// handlers in the order their points were accepted, even when a
	// size-triggered flush races an interval one. Lock order is emitMu
	// before mu.
	emitMu sync.Mutex

	mu            sync.Mutex
	buffer        []DataPoint
	stats         StreamStats
	ratePoints    int64
	stopped       bool
	nextHandlerID int
	pointHandlers map[int]PointHandler
	flushHandlers map[int]FlushHandler
}

func newStream(config StreamConfig, clock Clock, logger *zap.Logger) *Stream {
	return &Stream{
		config:        config,
		filter:        compileFilter(config.Filtering),
		clock:         clock,
		logger:        logger,
		closeChan:     make(chan struct{}),
		done:          make(chan struct{}),
		buffer:        make([]DataPoint, 0, config.BufferSize),
		pointHandlers: make(map[int]PointHandler),
		flushHandlers: make(map[int]FlushHandler),
	}
}

// Config returns the configuration the stream was created with.
func (s *Stream) Config() StreamConfig { return s.config }

// Name returns the stream's registry name.
func (s *Stream) Name() string { return s.config.Name }

func (s *Stream) start() {
	go s.run()
}

// run services both periodic schedules from a single goroutine, so timer
// callbacks for one stream never overlap.
func (s *Stream) run() {
	defer close(s.done)

	flushTicker := s.clock.NewTicker(s.config.FlushInterval)
	defer flushTicker.Stop()

	rateTicker := s.clock.NewTicker(time.Second)
	defer rateTicker.Stop()

	for {
		select {
		case <-flushTicker.C():
			s.flushWith(triggerInterval)

		case <-rateTicker.C():
			s.rollRate()

		case <-s.closeChan:
			s.flushWith(triggerStop)
			return
		}
	}
}

// AddPoint builds a DataPoint stamped with the current time and offers it
// to the stream. A point rejected by the filter chain is dropped: it counts
// toward FilteredPoints, mutates nothing else, and emits no event. An
// accepted point is appended to the buffer and announced to point handlers;
// if the buffer has reached its configured size the stream flushes
// synchronously before AddPoint returns.
func (s *Stream) AddPoint(value any, metadata Metadata, tags Tags) {
	point := DataPoint{
		Timestamp: s.clock.Now().UnixMilli(),
		Value:     value,
		Metadata:  metadata,
		Tags:      tags,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	if s.filter != nil && !s.filter.match(point) {
		s.stats.FilteredPoints++
		s.mu.Unlock()
		metricPointsFiltered.WithLabelValues(s.config.Name).Inc()
		return
	}

	s.buffer = append(s.buffer, point)
	s.stats.TotalPoints++
	s.ratePoints++
	s.stats.BufferUtilization = float64(len(s.buffer)) / float64(s.config.BufferSize)

	pointHandlers := s.pointHandlerSnapshot()
	full := len(s.buffer) >= s.config.BufferSize
	s.mu.Unlock()

	metricPointsAccepted.WithLabelValues(s.config.Name).Inc()
	for _, handler := range pointHandlers {
		handler(point)
	}
	if full {
		s.flushWith(triggerSize)
	}
}

// Flush drains the buffer immediately. It is a no-op on an empty buffer: no
// event is emitted and no statistic changes.
func (s *Stream) Flush() {
	s.flushWith(triggerManual)
}

// flushWith drains the buffer and emits the batch under emitMu, so that
// concurrent flush triggers cannot deliver batches out of acceptance order.
// A trigger that loses the race to an earlier drain finds the buffer empty
// and emits nothing.
func (s *Stream) flushWith(trigger string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	batch := s.drainLocked()
	var handlers []FlushHandler
	if batch != nil {
		handlers = s.flushHandlerSnapshot()
	}
	s.mu.Unlock()

	if batch != nil {
		s.emit(batch, handlers, trigger)
	}
}

// drainLocked atomically swaps the buffer out for an empty one and returns
// the snapshot, or nil when there is nothing to flush. Points arriving
// after the swap start a fresh cycle.
func (s *Stream) drainLocked() []DataPoint {
	if len(s.buffer) == 0 {
		return nil
	}
	batch := s.buffer
	s.buffer = make([]DataPoint, 0, s.config.BufferSize)
	s.stats.LastFlush = s.clock.Now().UnixMilli()
	s.stats.BufferUtilization = 0
	return batch
}

// emit runs aggregation on the drained batch when configured and hands the
// result to every flush handler. Callers hold emitMu but not mu, so
// handlers may call back into the stream.
func (s *Stream) emit(batch []DataPoint, handlers []FlushHandler, trigger string) {
	out := batch
	if agg := s.config.Aggregation; agg != nil && agg.Enabled {
		out = aggregate(batch, agg.WindowSize, agg.Functions)

		s.mu.Lock()
		s.stats.AggregatedPoints += int64(len(out))
		s.mu.Unlock()
	}

	metricFlushes.WithLabelValues(s.config.Name, trigger).Inc()
	metricFlushBatchSize.WithLabelValues(s.config.Name).Observe(float64(len(out)))

	for _, handler := range handlers {
		handler(out)
	}
}

// rollRate copies the acceptance count of the just-completed second into
// PointsPerSecond and resets the rolling counter.
func (s *Stream) rollRate() {
	s.mu.Lock()
	s.stats.PointsPerSecond = s.ratePoints
	s.ratePoints = 0
	s.mu.Unlock()
}

// OnPoint registers a handler for accepted points and returns a function
// that unregisters it.
func (s *Stream) OnPoint(handler PointHandler) (cancel func()) {
	s.mu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.pointHandlers[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.pointHandlers, id)
		s.mu.Unlock()
	}
}

// OnFlush registers a handler for flushed batches and returns a function
// that unregisters it.
func (s *Stream) OnFlush(handler FlushHandler) (cancel func()) {
	s.mu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.flushHandlers[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.flushHandlers, id)
		s.mu.Unlock()
	}
}

func (s *Stream) pointHandlerSnapshot() []PointHandler {
	handlers := make([]PointHandler, 0, len(s.pointHandlers))
	for _, h := range s.pointHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

func (s *Stream) flushHandlerSnapshot() []FlushHandler {
	handlers := make([]FlushHandler, 0, len(s.flushHandlers))
	for _, h := range s.flushHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

// GetStats returns a snapshot of the stream's statistics.
func (s *Stream) GetStats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ReportError records an ingestion failure against the stream. Collaborator
// adapters call this when a delivery or cache write fails; the buffering
// path itself never does.
func (s *Stream) ReportError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()

	metricReportedErrors.WithLabelValues(s.config.Name).Inc()
	s.logger.Warn("stream ingestion error",
		zap.String("stream", s.config.Name),
		zap.Error(err))
}

// Clear empties the buffer and resets all statistics to zero. Timers keep
// running; no flush event is emitted for the discarded points.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.buffer = s.buffer[:0]
	s.stats = StreamStats{}
	s.ratePoints = 0
	s.mu.Unlock()
}

// Stop performs a final flush, cancels both timers, and detaches all
// handlers. The stream is terminal afterward: further points are rejected
// and no events are emitted. Stop is safe to call more than once.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	// The run goroutine performs the final flush on its way out, so the
	// last batch is emitted before handlers detach.
	close(s.closeChan)
	<-s.done

	s.mu.Lock()
	s.pointHandlers = make(map[int]PointHandler)
	s.flushHandlers = make(map[int]FlushHandler)
	s.mu.Unlock()

	s.logger.Debug("stream stopped", zap.String("stream", s.config.Name))
}
