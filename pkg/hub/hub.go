package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Policy decides what happens when a client's queue is full.
type Policy int

const (
	// DropMessage skips the message for that client only. Suits streams
	// where the next message supersedes the last, like preview frames.
	DropMessage Policy = iota
	// DropClient disconnects the client. Suits streams where gaps are
	// worse than a reconnect, like event logs.
	DropClient
)

// Option configures a Hub.
type Option func(*Hub)

// WithPolicy sets the slow-client policy.
func WithPolicy(p Policy) Option {
	return func(h *Hub) { h.policy = p }
}

// WithQueueSize sets each client's send buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithOnConnect sets a function whose messages are sent to each new
// client before any broadcast, e.g. the latest snapshot.
func WithOnConnect(fn func() []Message) Option {
	return func(h *Hub) { h.onConnect = fn }
}

// Hub tracks clients and broadcasts to them. Only Run touches the client
// set's send channels.
type Hub struct {
	name      string
	policy    Policy
	queueSize int
	logger    *slog.Logger
	onConnect func() []Message

	mu      sync.RWMutex // guards clients for ClientCount
	clients map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	running atomic.Bool
	dropped atomic.Int64
}

// New creates a hub.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		queueSize:  256,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "hub", "hub", name)
	return h
}

// Run owns the client set until ctx is done, then disconnects everyone.
// Run must be called at most once.
func (h *Hub) Run(ctx context.Context) error {
	h.running.Store(true)
	defer h.running.Store(false)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			if h.onConnect != nil {
				for _, m := range h.onConnect() {
					select {
					case c.send <- m:
					default:
					}
				}
			}
			h.logger.Info("client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", n)

		case m := <-h.broadcast:
			h.fanOut(m)
		}
	}
}

func (h *Hub) fanOut(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			h.dropped.Add(1)
			if h.policy == DropClient {
				close(c.send)
				delete(h.clients, c)
				h.logger.Warn("dropped slow client")
			}
		}
	}
}

// Broadcast queues m for every client. When the hub itself is backed up
// the message is dropped.
func (h *Hub) Broadcast(m Message) {
	select {
	case h.broadcast <- m:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	m, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	h.Broadcast(m)
	return nil
}

// BroadcastBinary broadcasts binary data.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages not delivered to some client.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}
