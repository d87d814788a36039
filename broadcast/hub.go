package broadcast

import (
	"sync"

	"tasktracker/internal/consts"
)

// Hub fans encoded SSE frames out to every connected stream. Slow
// subscribers miss frames instead of blocking the broadcaster.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewHub creates a hub whose subscriber channels hold up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, subs: make(map[chan []byte]struct{})}
}

// Subscribe returns a frame channel. The channel is closed when the hub is.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers reports the number of attached streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every attached stream. Later subscribers get a closed channel
// and broadcasts are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// Broadcast frames data as a named SSE event and offers it to every subscriber.
func (h *Hub) Broadcast(event string, data []byte) {
	frame := Frame(event, data)
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	h.mu.Unlock()
}

// Frame encodes one SSE event. data must not contain newlines.
func Frame(event string, data []byte) []byte {
	frame := make([]byte, 0, len(consts.SSEEventPrefix)+len(event)+len(consts.SSEDataPrefix)+len(data)+3)
	frame = append(frame, consts.SSEEventPrefix...)
	frame = append(frame, event...)
	frame = append(frame, '\n')
	frame = append(frame, consts.SSEDataPrefix...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame
}
