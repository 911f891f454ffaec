// Package streamhub fans out per-deployment status transitions to any
// number of SSE subscribers, grounded on the teacher's gpuHub
// subscribe/broadcast pattern generalized from one global channel set
// to one channel set per deployment id.
package streamhub

import "sync"

// Hub holds one set of subscriber channels per deployment id.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe returns a buffered channel that receives the Broadcasts
// for id until Unsubscribe is called (see Broadcast for what happens
// when its buffer is full).
func (h *Hub) Subscribe(id string) chan []byte {
	ch := make(chan []byte, 4)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan []byte]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from id's subscriber set.
func (h *Hub) Unsubscribe(id string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[id], ch)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// Broadcast sends data to every current subscriber of id. A slow
// subscriber whose buffer is full loses its oldest buffered update
// rather than blocking the broadcaster, so it still gets the latest
// state on a later read, including the final broadcast (a terminal
// status) sent last in the deployment's lifetime.
func (h *Hub) Broadcast(id string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
}
