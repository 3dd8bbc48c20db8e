package http

import (
	"log/slog"
	"sync"

	"github.com/aretw0/convengine/internal/logging"
)

// StreamManager fans messages out to SSE subscribers, keyed by stream ID.
// Turn results use the conversation ID as key.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{}
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager. A nil logger discards output.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
		logger:      logging.OrNop(logger),
	}
}

// Subscribe registers a buffered channel for id. The returned func
// unregisters and closes it.
func (sm *StreamManager) Subscribe(id string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[id]; !ok {
		sm.subscribers[id] = make(map[chan string]struct{})
	}
	sm.subscribers[id][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			subs := sm.subscribers[id]
			if _, ok := subs[ch]; !ok {
				// Already closed by CloseAll.
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, id)
			}
		})
	}
}

// Broadcast sends msg to every subscriber of id. Slow subscribers whose
// buffer is full miss the message.
func (sm *StreamManager) Broadcast(id, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[id] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("sse client buffer full, dropping message", "stream", id)
		}
	}
}

// CloseAll ends every subscription of id. Messages already buffered are
// still delivered before the channels report closed.
func (sm *StreamManager) CloseAll(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for ch := range sm.subscribers[id] {
		close(ch)
	}
	delete(sm.subscribers, id)
}

// Subscribers returns the number of live subscriptions for id.
func (sm *StreamManager) Subscribers(id string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[id])
}
