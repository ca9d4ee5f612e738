package opsdeck_streaming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cacheKeyTTL is how long a flushed batch stays readable in the cache. The
// key always holds the latest batch, so a short window is enough.
const cacheKeyTTL = time.Minute

// streamCacheTag marks every cache entry written by the registry, enabling
// bulk invalidation of all stream data.
const streamCacheTag = "stream"

// Registry is the factory and directory of named streams. It wires every
// stream's flush output to the cache and, for websocket-sourced streams,
// wires inbound transport envelopes into ingestion. Construct one at the
// composition root and pass it by reference; there is no package-level
// instance.
type Registry struct {
	ctx       context.Context
	cache     Cache
	transport Transport
	clock     Clock
	logger    *zap.Logger

	mu           sync.Mutex
	streams      map[string]*Stream
	unsubscribes map[string][]func()
}

// NewRegistry creates an empty registry. Collaborators are optional: with
// no cache, flushes only reach registered handlers; with no transport,
// websocket-sourced configs behave like caller-driven ones.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		ctx:          context.Background(),
		clock:        realClock{},
		logger:       zap.NewNop(),
		streams:      make(map[string]*Stream),
		unsubscribes: make(map[string][]func()),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply registry option: %w", err)
		}
	}
	return r, nil
}

// CreateStream validates the config, constructs the stream, registers it by
// name, and wires its collaborators. Registering a name that already exists
// fails with ErrDuplicateStream and mutates nothing.
func (r *Registry) CreateStream(config StreamConfig) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}

	r.mu.Lock()
	_, exists := r.streams[config.Name]
	r.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateStream, config.Name)
	}

	// Collaborators are wired with the registry unlocked. A transport may
	// dispatch synchronously during Subscribe, and handlers may call back
	// into the registry; neither must be able to deadlock on r.mu.
	stream := newStream(config, r.clock, r.logger)

	if r.cache != nil {
		stream.OnFlush(r.cacheWriter(stream))
	}

	var cancels []func()
	if config.Source == SourceWebsocket && r.transport != nil {
		cancel, err := r.transport.Subscribe(config.Name, func(msg InboundMessage) {
			stream.AddPoint(msg.Value, msg.Metadata, msg.Tags)
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe stream %q: %w", config.Name, err)
		}
		cancels = append(cancels, cancel)

		if reporting, ok := r.transport.(ErrorReportingTransport); ok {
			cancels = append(cancels, reporting.OnError(config.Name, stream.ReportError))
		}
	}

	stream.start()

	r.mu.Lock()
	if _, exists := r.streams[config.Name]; exists {
		// Lost a race with a concurrent creation of the same name. Tear
		// the speculative stream down; the registered one is untouched.
		r.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		stream.Stop()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateStream, config.Name)
	}
	r.streams[config.Name] = stream
	if len(cancels) > 0 {
		r.unsubscribes[config.Name] = cancels
	}
	r.mu.Unlock()

	r.logger.Info("stream created",
		zap.String("stream", config.Name),
		zap.String("source", string(config.Source)),
		zap.Int("bufferSize", config.BufferSize),
		zap.Duration("flushInterval", config.FlushInterval))
	return stream, nil
}

// cacheWriter builds the flush handler that persists every emitted batch
// under stream_<name>_latest, tagged for bulk invalidation. A failed write
// counts against the stream's error statistic.
func (r *Registry) cacheWriter(stream *Stream) FlushHandler {
	key := fmt.Sprintf("stream_%s_latest", stream.Name())
	opts := CacheOptions{
		TTL:      cacheKeyTTL,
		Tags:     []string{stream.Name(), streamCacheTag},
		Priority: PriorityHigh,
		Compress: stream.Config().Compression,
	}
	return func(points []DataPoint) {
		if err := r.cache.Set(r.ctx, key, points, opts); err != nil {
			stream.ReportError(fmt.Errorf("cache write %q: %w", key, err))
		}
	}
}

// GetStream returns the stream registered under name. It never creates one
// implicitly.
func (r *Registry) GetStream(name string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[name]
	return stream, ok
}

// RemoveStream stops and deregisters the named stream, reporting whether a
// removal occurred. Removing an absent name is a no-op.
func (r *Registry) RemoveStream(name string) bool {
	r.mu.Lock()
	stream, ok := r.streams[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.streams, name)
	cancels := r.unsubscribes[name]
	delete(r.unsubscribes, name)
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	stream.Stop()

	r.logger.Info("stream removed", zap.String("stream", name))
	return true
}

// StreamNames lists registered stream names, sorted.
func (r *Registry) StreamNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats snapshots the statistics of every registered stream.
func (r *Registry) AllStats() map[string]StreamStats {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, stream := range r.streams {
		streams = append(streams, stream)
	}
	r.mu.Unlock()

	stats := make(map[string]StreamStats, len(streams))
	for _, stream := range streams {
		stats[stream.Name()] = stream.GetStats()
	}
	return stats
}

// ProvisionDefaultStreams creates the product's fixed catalog of telemetry
// streams. Names that already exist are left untouched.
func (r *Registry) ProvisionDefaultStreams() error {
	for _, config := range DefaultStreamConfigs() {
		if _, ok := r.GetStream(config.Name); ok {
			continue
		}
		if _, err := r.CreateStream(config); err != nil {
			return fmt.Errorf("provision default stream %q: %w", config.Name, err)
		}
	}
	return nil
}

// Close stops and removes every stream. The registry may be reused
// afterward, but any transport/cache collaborators keep their own
// lifecycles.
func (r *Registry) Close() {
	for _, name := range r.StreamNames() {
		r.RemoveStream(name)
	}
}
