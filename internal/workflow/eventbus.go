package workflow

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType enumerates the workflow event types publishable on the bus.
type EventType string

const (
	EventStateChanged          EventType = "StateChanged"
	EventExposureTriggered     EventType = "ExposureTriggered"
	EventExposureCompleted     EventType = "ExposureCompleted"
	EventImageAccepted         EventType = "ImageAccepted"
	EventImageRejected         EventType = "ImageRejected"
	EventInterlockViolation    EventType = "InterlockViolation"
	EventDoseThresholdWarning  EventType = "DoseThresholdWarning"
	EventDoseThresholdExceeded EventType = "DoseThresholdExceeded"
)

// Event is a single published item on the bus.
type Event struct {
	Type      EventType
	From      State
	To        State
	Trigger   Trigger
	Timestamp time.Time
	Sequence  int64
	Data      map[string]interface{}
}

// Filter selects which event types a subscriber wants; an empty Filter
// receives every event type, mirroring EventBus.Subscribe's variadic
// "no types = all types" convention.
type Filter struct {
	Types []EventType
}

func (f Filter) matches(t EventType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if want == t {
			return true
		}
	}
	return false
}

const subscriberQueueDepth = 64

// subscription is one registered channel plus its filter and drop count.
type subscription struct {
	ch      chan *Event
	filter  Filter
	dropped int64
}

// EventBus is a multi-producer/multi-subscriber broadcast bus with a
// bounded per-subscriber queue and a drop-oldest policy: a full
// subscriber queue never blocks the publisher — the oldest queued
// event is discarded to make room, and the subscriber's drop counter
// increments. Publishing a single event to all subscribers must
// complete, and each subscriber must observe it, within 50ms of
// publication under nominal load; the drop-oldest policy exists
// precisely so one slow subscriber cannot stall that guarantee for
// everyone else.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[int64]*subscription
	nextID   int64
	sequence int64
}

// NewEventBus constructs an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int64]*subscription)}
}

// Subscription is the handle returned to a caller of Subscribe.
type Subscription struct {
	id   int64
	bus  *EventBus
	Chan <-chan *Event
}

// Subscribe registers a new subscriber matching filter and returns a
// channel the subscriber drains.
func (b *EventBus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Event, subscriberQueueDepth)
	b.subs[id] = &subscription{ch: ch, filter: filter}
	return &Subscription{id: id, bus: b, Chan: ch}
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Dropped returns the number of events dropped for this subscriber
// under the drop-oldest policy.
func (s *Subscription) Dropped() int64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		return atomic.LoadInt64(&sub.dropped)
	}
	return 0
}

// Publish delivers event to every matching subscriber. Delivery to one
// subscriber raising, panicking, or being slow must not prevent
// delivery to the others.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	event.Sequence = b.sequence
	b.sequence++
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(event.Type) {
			continue
		}
		deliverDropOldest(sub, event)
	}
}

// deliverDropOldest enqueues event on sub's channel; if the channel is
// full it discards the oldest queued event first rather than blocking
// the publisher.
func deliverDropOldest(sub *subscription, event *Event) {
	for attempts := 0; attempts < 2; attempts++ {
		select {
		case sub.ch <- event:
			return
		default:
			select {
			case <-sub.ch:
				atomic.AddInt64(&sub.dropped, 1)
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
