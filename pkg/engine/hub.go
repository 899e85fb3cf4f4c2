package engine

import (
	"context"
)

// Hub fans snapshots out to subscribers. Slow subscribers miss snapshots
// instead of stalling the publisher.
type Hub struct {
	broadcast  chan Snapshot
	register   chan chan Snapshot
	unregister chan chan Snapshot
	clients    map[chan Snapshot]struct{}
	clientBuf  int
	dropped    chan struct{}
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Snapshot, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan Snapshot, 256),
		register:   make(chan chan Snapshot),
		unregister: make(chan chan Snapshot),
		clients:    make(map[chan Snapshot]struct{}),
		clientBuf:  100,
		dropped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers snapshots until ctx is done. Snapshots already queued are
// delivered before every subscriber channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.dropped)
	for {
		select {
		case <-ctx.Done():
			h.flush()
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case snap := <-h.broadcast:
			h.deliver(snap)
		}
	}
}

// flush delivers whatever is still queued at shutdown.
func (h *Hub) flush() {
	for {
		select {
		case snap := <-h.broadcast:
			h.deliver(snap)
		default:
			return
		}
	}
}

func (h *Hub) deliver(snap Snapshot) {
	for ch := range h.clients {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (h *Hub) Subscribe() chan Snapshot {
	return h.SubscribeWithBuffer(h.clientBuf)
}

// SubscribeWithBuffer registers a new subscriber. After Run has returned
// the channel is returned already closed.
func (h *Hub) SubscribeWithBuffer(size int) chan Snapshot {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan Snapshot, size)
	select {
	case h.register <- ch:
	case <-h.dropped:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan Snapshot) {
	select {
	case h.unregister <- ch:
	case <-h.dropped:
	}
}

// Publish queues snap for delivery. It never blocks: when the broadcast
// buffer is full the snapshot is dropped.
func (h *Hub) Publish(snap Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
	}
}
