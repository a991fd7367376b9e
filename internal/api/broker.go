package api

import (
	"sync"
)

// SSEEvent is one event on a driver channel.
type SSEEvent struct {
	ID   string         `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans events out to subscribers of a driver channel.
type EventBroker interface {
	Subscribe(driverID string) chan SSEEvent
	// Unsubscribe stops delivery and closes ch.
	Unsubscribe(driverID string, ch chan SSEEvent)
	Publish(driverID string, evt SSEEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // driverId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(driverID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[driverID] == nil {
		b.subs[driverID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[driverID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(driverID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[driverID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, driverID)
	}
	close(ch)
}

// Publish drops the event for subscribers whose buffer is full.
func (b *Broker) Publish(driverID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[driverID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
