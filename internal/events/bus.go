// Package events provides a non-blocking pub/sub bus for request lifecycle
// events. Subscribers that fall behind lose events rather than stalling the
// pipeline.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	// EventRequestStarted is published when a request is registered.
	EventRequestStarted EventType = "request_started"
	// EventRequestCancelled is published when a checkpoint observed a cancel.
	EventRequestCancelled EventType = "request_cancelled"
	// EventRequestCompleted is published when a pipeline run finished normally.
	EventRequestCompleted EventType = "request_completed"
	// EventRequestFailed is published when a pipeline run ended in an error.
	EventRequestFailed EventType = "request_failed"
	// EventDatasetReloaded is published after a CSV reload.
	EventDatasetReloaded EventType = "dataset_reloaded"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus delivers events asynchronously over buffered channels. If a
// subscriber's channel is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for an event type and returns an unsubscribe
// function. fn runs on its own goroutine; panics in fn are swallowed so a bad
// subscriber cannot take down the bus.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() { recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking the caller.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
