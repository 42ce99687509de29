package api

import (
	"log/slog"
	"sync"

	"github.com/lysyi3m/tag-comb/app/engine"
)

// Broker fans engine events out to SSE subscribers. Slow subscribers miss
// events instead of blocking publishers.
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan engine.Event]struct{}
	buffer      int
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subscribers: make(map[chan engine.Event]struct{}),
		buffer:      buffer,
	}
}

func (b *Broker) Subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, b.buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish matches engine.Listener.
func (b *Broker) Publish(ev engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Debug("Event dropped for slow subscriber", "event", ev.Type, "work", ev.WorkID)
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
