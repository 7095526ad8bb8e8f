package events

import (
	"sync"
)

// topicAll matches every published topic; used by SubscribeAll.
const topicAll Topic = "*"

const defaultBufSize = 256

type subscription struct {
	topic Topic
	ch    chan Event
}

// Bus is an in-process pub-sub bus for run lifecycle events. Publishing
// never blocks: a subscriber whose channel is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events published to the topic.
// bufSize defaults to 256 if <= 0.
func (b *Bus) Subscribe(topic Topic, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe(topicAll, bufSize)
}

func (b *Bus) subscribe(topic Topic, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscription{topic: topic, ch: ch})
	return ch
}

// Publish delivers the event to every subscriber matching the topic.
// Events are dropped for full channels.
func (b *Bus) Publish(topic Topic, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.topic != topic && sub.topic != topicAll {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Close closes the bus and all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
