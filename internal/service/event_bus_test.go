// internal/service/event_bus_test.go
package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
)

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	lost := bus.Subscribe(model.EventSessionLost)
	all, cancel := bus.SubscribeAll(10)

	id := uuid.New()
	bus.Publish(model.SessionEvent{EventType: model.EventFrame, SessionID: id})
	bus.Publish(model.SessionEvent{EventType: model.EventSessionLost, SessionID: id, Severity: "CRITICAL"})

	ev := waitEvent(t, lost, model.EventSessionLost)
	if ev.ID == uuid.Nil || ev.Timestamp.IsZero() || ev.Severity != "CRITICAL" {
		t.Errorf("event = %+v", ev)
	}

	first := waitEvent(t, all, model.EventFrame)
	if first.Severity != "INFO" || first.SessionID != id {
		t.Errorf("frame event = %+v", first)
	}
	waitEvent(t, all, model.EventSessionLost)

	cancel()
	cancel()
	bus.Publish(model.SessionEvent{EventType: model.EventFrame})
	select {
	case ev := <-all:
		t.Errorf("event after cancel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusSlowSubscriber(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	slow, cancel := bus.SubscribeAll(1)
	defer cancel()
	fast, cancelFast := bus.SubscribeAll(10)
	defer cancelFast()

	for i := 0; i < 5; i++ {
		bus.Publish(model.SessionEvent{EventType: model.EventFrame})
	}
	bus.Publish(model.SessionEvent{EventType: model.EventSettingsSynced})

	waitEvent(t, fast, model.EventSettingsSynced)
	if len(slow) != 1 {
		t.Errorf("slow subscriber holds %d events", len(slow))
	}
}

func TestEventBusStop(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		bus.Start()
		close(done)
	}()

	bus.Stop()
	bus.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	bus.Publish(model.SessionEvent{EventType: model.EventFrame})
}
