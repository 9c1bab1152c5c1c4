package think

import (
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/models"
)

// EventType names a think loop event.
type EventType string

const (
	EventStart          EventType = "think:start"
	EventStep           EventType = "step"
	EventActionStart    EventType = "action:start"
	EventActionComplete EventType = "action:complete"
	EventActionError    EventType = "action:error"
	EventComplete       EventType = "think:complete"
	EventTimeout        EventType = "think:timeout"
	EventError          EventType = "think:error"
)

// Event is emitted by an Engine during a session.
type Event struct {
	Type      EventType
	SessionID string
	Query     string
	Iteration int
	Step      *models.Step
	Action    *Action
	Result    any
	// Completed is set on think:complete; false means the queue drained
	// or verification could not be parsed (Err set) before the goal was
	// verified as complete.
	Completed bool
	Reason    string
	Err       error
	Duration  time.Duration
	Time      time.Time
}

// Listener receives events. OnEvent is called synchronously from the
// session goroutine and must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Listeners fans one event out to several listeners.
type Listeners []Listener

// OnEvent implements Listener.
func (ls Listeners) OnEvent(e Event) {
	for _, l := range ls {
		l.OnEvent(e)
	}
}

// ChannelListener delivers events to a buffered channel, dropping them
// when the buffer is full.
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

// Drain returns the events currently buffered.
func (l *ChannelListener) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-l.C:
			out = append(out, e)
		default:
			return out
		}
	}
}
