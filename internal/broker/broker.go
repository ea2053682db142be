// Package broker fans lifecycle events out to in-process subscribers such
// as websocket connections.
package broker

import (
	"sync"
)

// TopicMachine carries changes of the shared machine's availability.
const TopicMachine = "machine"

// Event describes a lifecycle change.
type Event struct {
	Type    string `json:"type"` // cycle_started | cycle_stopped | door_released
	CycleID int64  `json:"cycleId,omitempty"`
	UserID  *int64 `json:"userId,omitempty"`
}

type Broker struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan Event),
	}
}

func (b *Broker) Subscribe(topic string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 8)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if chans, ok := b.subscribers[topic]; ok {
		for i, c := range chans {
			if c == ch {
				b.subscribers[topic] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
	}
}

// Publish delivers msg to every subscriber of topic. Subscribers whose
// buffer is full miss the event rather than blocking the publisher.
func (b *Broker) Publish(topic string, msg Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}
