package opsdeck_streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// InboundMessage is one telemetry envelope delivered over the transport.
// Channel routes the envelope to the stream of the same name; the rest maps
// onto a single AddPoint call.
type InboundMessage struct {
	Channel  string   `json:"channel"`
	Value    any      `json:"value"`
	Metadata Metadata `json:"metadata,omitempty"`
	Tags     Tags     `json:"tags,omitempty"`
}

// MessageHandler consumes inbound envelopes for one channel.
type MessageHandler func(msg InboundMessage)

// ErrorHandler consumes transport-level delivery failures for one channel.
type ErrorHandler func(err error)

// Transport delivers raw telemetry envelopes from an upstream feed into
// per-stream channels. One inbound envelope maps to exactly one handler
// call.
type Transport interface {
	Subscribe(channel string, handler MessageHandler) (cancel func(), err error)
}

// ErrorReportingTransport is implemented by transports that can surface
// per-channel delivery failures to a listener.
type ErrorReportingTransport interface {
	OnError(channel string, handler ErrorHandler) (cancel func())
}

type wsSubscriber struct {
	onMessage MessageHandler
	onError   ErrorHandler
}

// WebsocketTransport feeds envelopes from a single websocket connection to
// per-channel subscribers. Subscriptions may be registered before Connect;
// envelopes for channels with no subscriber are dropped.
type WebsocketTransport struct {
	url    string
	logger *zap.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	done        chan struct{}
	nextID      int
	subscribers map[string]map[int]wsSubscriber
}

// NewWebsocketTransport creates a transport for the given websocket URL.
// Call Connect before expecting envelopes.
func NewWebsocketTransport(url string, logger *zap.Logger) *WebsocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketTransport{
		url:         url,
		logger:      logger,
		subscribers: make(map[string]map[int]wsSubscriber),
	}
}

// Connect establishes the websocket connection and starts the read loop.
// Connecting an already-connected transport is a no-op.
func (t *WebsocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.done = make(chan struct{})
	go t.readLoop(conn, t.done)

	t.logger.Info("websocket transport connected", zap.String("url", t.url))
	return nil
}

// Disconnect performs the close handshake and stops the read loop.
func (t *WebsocketTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	close(t.done)

	err := t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	t.conn.Close()
	t.conn = nil
	if err != nil {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			t.logger.Warn("websocket read failed", zap.Error(err))
			t.dispatchError(err)
			return
		}

		// A malformed frame names no channel, so it cannot be charged to
		// one. Skip it and keep reading; only connection-level failures
		// end the loop.
		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.logger.Warn("websocket envelope decode failed", zap.Error(err))
			continue
		}
		t.dispatch(msg)
	}
}

func (t *WebsocketTransport) dispatch(msg InboundMessage) {
	t.mu.RLock()
	subs := make([]wsSubscriber, 0, len(t.subscribers[msg.Channel]))
	for _, sub := range t.subscribers[msg.Channel] {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		sub.onMessage(msg)
	}
}

// dispatchError fans a connection-level failure out to every channel that
// registered an error handler.
func (t *WebsocketTransport) dispatchError(err error) {
	t.mu.RLock()
	var handlers []ErrorHandler
	for _, channel := range t.subscribers {
		for _, sub := range channel {
			if sub.onError != nil {
				handlers = append(handlers, sub.onError)
			}
		}
	}
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(err)
	}
}

// Subscribe registers a handler for one channel and returns a function that
// removes it.
func (t *WebsocketTransport) Subscribe(channel string, handler MessageHandler) (func(), error) {
	return t.subscribe(channel, wsSubscriber{onMessage: handler}), nil
}

// OnError registers a delivery-failure handler for one channel.
func (t *WebsocketTransport) OnError(channel string, handler ErrorHandler) func() {
	return t.subscribe(channel, wsSubscriber{
		onMessage: func(InboundMessage) {},
		onError:   handler,
	})
}

func (t *WebsocketTransport) subscribe(channel string, sub wsSubscriber) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	if t.subscribers[channel] == nil {
		t.subscribers[channel] = make(map[int]wsSubscriber)
	}
	t.subscribers[channel][id] = sub
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers[channel], id)
		if len(t.subscribers[channel]) == 0 {
			delete(t.subscribers, channel)
		}
		t.mu.Unlock()
	}
}
