// Package telemetry fans the published world state out to station consoles.
// Each station subscribes to its own topic and only sees its own view.
package telemetry

import (
	"sync"
)

// Message is what a subscriber receives.
type Message struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// DefaultSubscriberBuffer is the queue size of a subscription.
const DefaultSubscriberBuffer = 100

// Bus is an in-process topic broker. Publish never blocks: a subscriber
// whose queue is full misses the message.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan Message
}

// NewBus creates an empty broker.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*subscription]struct{})}
}

// Subscribe returns a channel of messages for topic and a cancel func that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(topic string, size int) (<-chan Message, func()) {
	if size <= 0 {
		size = DefaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan Message, size)}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[topic], sub)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers data to every subscriber of topic and returns how many
// received it.
func (b *Bus) Publish(topic string, data any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	msg := Message{Topic: topic, Data: data}
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// HasSubscribers reports whether anyone listens on topic.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic]) > 0
}
