package events

import (
	"fmt"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, log *Log, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recent := log.Recent(); len(recent) >= want {
			return recent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", want, len(log.Recent()))
	return nil
}

func TestLogReceivesPublishedEvents(t *testing.T) {
	bus := NewBus()
	log := NewLog(bus, 8)

	bus.PublishOrderEvent(EventOrderPlaced, "binance", "id-1", "BTCUSDT", "BUY", 0.5)

	recent := waitForEvents(t, log, 1)
	if recent[0].Type != EventOrderPlaced {
		t.Errorf("type = %s, want ORDER_PLACED", recent[0].Type)
	}
	if recent[0].Data["venue"] != "binance" {
		t.Errorf("venue = %v, want binance", recent[0].Data["venue"])
	}
}

func TestLogEvictsOldestFirst(t *testing.T) {
	log := &Log{buf: make([]Event, 3)}
	for i := 0; i < 5; i++ {
		log.record(Event{Type: EventEquityUpdate, Data: map[string]interface{}{"seq": i}})
	}

	recent := log.Recent()
	if len(recent) != 3 {
		t.Fatalf("length = %d, want 3", len(recent))
	}
	for i, event := range recent {
		if want := i + 2; event.Data["seq"] != want {
			t.Errorf("event %d seq = %v, want %v", i, event.Data["seq"], want)
		}
	}
}

func TestLogRecentBeforeWrap(t *testing.T) {
	log := &Log{buf: make([]Event, 8)}
	log.record(Event{Type: EventBreakerTripped})
	log.record(Event{Type: EventBreakerReset})

	recent := log.Recent()
	if len(recent) != 2 {
		t.Fatalf("length = %d, want 2", len(recent))
	}
	if recent[0].Type != EventBreakerTripped || recent[1].Type != EventBreakerReset {
		t.Errorf("order = %s, %s, want tripped then reset", recent[0].Type, recent[1].Type)
	}
}

func TestLogConcurrentRecord(t *testing.T) {
	bus := NewBus()
	log := NewLog(bus, 64)

	for i := 0; i < 32; i++ {
		bus.Publish(Event{Type: EventPositionUpdate, Data: map[string]interface{}{"id": fmt.Sprint(i)}})
	}
	waitForEvents(t, log, 32)
}
