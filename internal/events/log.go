package events

import "sync"

// Log subscribes to a bus and retains the most recent events for the
// status API's event feed.
type Log struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	filled bool
}

// NewLog creates a log holding the last capacity events and subscribes it
// to every event on the bus.
func NewLog(bus *Bus, capacity int) *Log {
	if capacity <= 0 {
		capacity = 64
	}
	l := &Log{buf: make([]Event, capacity)}
	bus.SubscribeAll(l.record)
	return l
}

func (l *Log) record(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = event
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.filled = true
	}
}

// Recent returns the retained events, oldest first.
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.filled {
		out := make([]Event, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]Event, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}
