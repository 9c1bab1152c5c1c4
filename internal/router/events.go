package router

import (
	"sync"
	"time"
)

// EventType names a router event.
type EventType string

const (
	EventHandlerRegistered EventType = "handler:registered"
	EventHandlerRemoved    EventType = "handler:removed"
	EventProcessStart      EventType = "process:start"
	EventProcessComplete   EventType = "process:complete"
	EventProcessError      EventType = "process:error"
)

// Event is emitted by a Router.
type Event struct {
	Type      EventType
	Handler   string
	Processor string
	Err       error
	Duration  time.Duration
	Time      time.Time
}

// Listener receives router events. OnEvent must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ChannelListener delivers events to a buffered channel and drops them
// when the channel is full.
type ChannelListener struct {
	C       chan Event
	mu      sync.Mutex
	dropped int
}

// NewChannelListener creates a listener with the given buffer size.
func NewChannelListener(size int) *ChannelListener {
	return &ChannelListener{C: make(chan Event, size)}
}

// OnEvent implements Listener.
func (l *ChannelListener) OnEvent(e Event) {
	select {
	case l.C <- e:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
	}
}

// Dropped returns the number of events discarded.
func (l *ChannelListener) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
