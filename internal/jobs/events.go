package jobs

import (
	"sync"
	"time"

	"videomorph/internal/domain"
)

// EventType classifies messages emitted by the queue and coordinator.
type EventType string

const (
	EventTypeQueue    EventType = "queue"
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeState    EventType = "state"
	EventTypeLog      EventType = "log"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64                   `json:"seq"`
	Timestamp time.Time               `json:"timestamp"`
	JobID     string                  `json:"jobId,omitempty"`
	Type      EventType               `json:"type"`
	Status    domain.JobStatus        `json:"status,omitempty"`
	State     domain.CoordinatorState `json:"state,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Command   string                  `json:"command,omitempty"`
	Progress  float64                 `json:"progress,omitempty"`
	Remaining time.Duration           `json:"remaining,omitempty"`
	Output    string                  `json:"output,omitempty"`
	Totals    *domain.Totals          `json:"totals,omitempty"`
}

// Listener receives every published event after it has been sequenced.
type Listener func(Event)

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	listeners []Listener
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Subscribe registers a listener for events published from now on.
func (b *EventBus) Subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish appends one event, assigns sequence and timestamp, and fans it out
// to listeners outside the lock.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
