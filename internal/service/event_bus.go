// internal/service/event_bus.go
package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// EventBus fans session events out to subscribers. Slow subscribers miss
// events instead of blocking the publisher.
type EventBus struct {
	subscribers map[model.EventType][]chan model.SessionEvent
	all         map[chan model.SessionEvent]struct{}
	events      chan model.SessionEvent
	quit        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.SessionEvent),
		all:         make(map[chan model.SessionEvent]struct{}),
		events:      make(chan model.SessionEvent, 1000),
		quit:        make(chan struct{}),
		logger:      logger,
	}
}

// Start distributes events until Stop is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.quit:
			return
		}
	}
}

// Stop ends Start; later events are dropped
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.quit) })
}

// Publish publishes an event. ID and Timestamp are filled when empty.
func (eb *EventBus) Publish(event model.SessionEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = "INFO"
	}

	select {
	case <-eb.quit:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan model.SessionEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.SessionEvent, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// SubscribeAll receives every event until the returned cancel is called
func (eb *EventBus) SubscribeAll(buffer int) (<-chan model.SessionEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.SessionEvent, buffer)
	eb.all[subscriber] = struct{}{}

	var once sync.Once
	return subscriber, func() {
		once.Do(func() {
			eb.mutex.Lock()
			delete(eb.all, subscriber)
			eb.mutex.Unlock()
		})
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.SessionEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers[event.EventType] {
		select {
		case subscriber <- event:
		default:
		}
	}
	for subscriber := range eb.all {
		select {
		case subscriber <- event:
		default:
		}
	}
}
