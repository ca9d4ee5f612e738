package opsdeck_streaming

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RegistryOption is a function that configures a Registry.
type RegistryOption func(*Registry) error

// WithCache sets the cache collaborator that receives every flushed batch.
func WithCache(cache Cache) RegistryOption {
	return func(r *Registry) error {
		if cache == nil {
			return fmt.Errorf("cache cannot be nil")
		}
		r.cache = cache
		return nil
	}
}

// WithTransport sets the transport collaborator feeding websocket-sourced
// streams.
func WithTransport(transport Transport) RegistryOption {
	return func(r *Registry) error {
		if transport == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		r.transport = transport
		return nil
	}
}

// WithLogger sets the logger used by the registry and every stream it
// creates.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// WithClock sets the clock that streams take timestamps and tickers from.
// Tests use this to advance virtual time deterministically.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		r.clock = clock
		return nil
	}
}

// WithContext sets the base context for collaborator calls made on behalf
// of streams (cache writes after flushes).
func WithContext(ctx context.Context) RegistryOption {
	return func(r *Registry) error {
		if ctx == nil {
			return fmt.Errorf("context cannot be nil")
		}
		r.ctx = ctx
		return nil
	}
}
