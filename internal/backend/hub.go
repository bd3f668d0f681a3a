package backend

import (
	"encoding/json"
	"sync"

	"github.com/mordilloSan/go-logger/logger"
)

// Hub fans published events out to subscribers. Delivery is synchronous
// and serialized, so every subscriber sees a stream in publish order.
type Hub struct {
	pubMu sync.Mutex

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(json.RawMessage)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(json.RawMessage))}
}

// Subscribe registers fn for stream. The returned function removes it and
// may be called more than once.
func (h *Hub) Subscribe(stream string, fn func(json.RawMessage)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.subs[stream] == nil {
		h.subs[stream] = make(map[uint64]func(json.RawMessage))
	}
	h.subs[stream][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[stream], id)
			if len(h.subs[stream]) == 0 {
				delete(h.subs, stream)
			}
		})
	}
}

// Publish encodes payload once and hands it to every current subscriber.
// Subscribers must not publish from inside their callback.
func (h *Hub) Publish(stream string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("failed to encode %s event: %v", stream, err)
		return
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	fns := make([]func(json.RawMessage), 0, len(h.subs[stream]))
	for _, fn := range h.subs[stream] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(raw)
	}
}

// Subscribers counts the callbacks registered for stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[stream])
}
