package engine

import (
	"context"
	"sync/atomic"

	"brainlink/pkg/protocol"
)

// Hub fans readings out to subscribers. A subscriber that falls behind loses
// readings instead of stalling the decoder.
type Hub struct {
	broadcast  chan protocol.Reading
	register   chan chan protocol.Reading
	unregister chan chan protocol.Reading
	clients    map[chan protocol.Reading]struct{}
	clientBuf  int
	done       chan struct{}

	dropped     atomic.Uint64
	clientDrops atomic.Uint64
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan protocol.Reading, size)
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
		broadcast:  make(chan protocol.Reading, 1024),
		register:   make(chan chan protocol.Reading),
		unregister: make(chan chan protocol.Reading),
		clients:    make(map[chan protocol.Reading]struct{}),
		clientBuf:  256,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers readings until ctx is done, then closes every subscriber.
// Subscribe and Publish return immediately once Run has exited.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
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
		case r := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- r:
				default:
					h.clientDrops.Add(1)
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan protocol.Reading {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan protocol.Reading {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan protocol.Reading, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan protocol.Reading) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish blocks until the hub accepts r or stops.
func (h *Hub) Publish(r protocol.Reading) {
	select {
	case h.broadcast <- r:
	case <-h.done:
	}
}

// TryPublish hands r to the hub without blocking and reports whether it was
// accepted. Decoder handlers use it.
func (h *Hub) TryPublish(r protocol.Reading) bool {
	select {
	case h.broadcast <- r:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Drops reports readings lost because the broadcast queue was full and
// deliveries skipped because a subscriber was full.
func (h *Hub) Drops() (published, delivered uint64) {
	return h.dropped.Load(), h.clientDrops.Load()
}
