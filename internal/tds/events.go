package tds

import "time"

// EventType identifies a signal emitted by a Conn.
type EventType string

const (
	// EventConnect fires once when the handshake finishes. Err is set when
	// the server rejected the login.
	EventConnect EventType = "connect"

	// EventError fires on transport failures, during or after the handshake.
	EventError EventType = "error"

	// EventEnd fires once when the connection is closed, by either side.
	EventEnd EventType = "end"

	// EventDebug carries protocol trace lines. It never ends the connection.
	EventDebug EventType = "debug"
)

// Event is a single signal from a Conn.
type Event struct {
	Type    EventType
	ConnID  string
	Err     error
	Message string
	At      time.Time
}

// Listener receives events. Listeners run on the goroutine that emitted
// the event and must not block.
type Listener func(Event)

type listener struct {
	id   uint64
	typ  EventType
	fn   Listener
	once bool
}

// On registers a durable listener for typ.
// The returned function removes it; calling it more than once is safe.
func (c *Conn) On(typ EventType, fn Listener) (remove func()) {
	return c.addListener(typ, fn, false)
}

// Once registers a listener that is removed before its first invocation.
func (c *Conn) Once(typ EventType, fn Listener) (remove func()) {
	return c.addListener(typ, fn, true)
}

func (c *Conn) addListener(typ EventType, fn Listener, once bool) func() {
	c.mu.Lock()
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, &listener{id: id, typ: typ, fn: fn, once: once})
	c.mu.Unlock()

	return func() { c.removeListener(id) }
}

func (c *Conn) removeListener(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of listeners registered for typ.
func (c *Conn) ListenerCount(typ EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.listeners {
		if l.typ == typ {
			n++
		}
	}
	return n
}

// emit delivers ev to a snapshot of the matching listeners. One-shot
// listeners are removed under the lock before any listener runs.
func (c *Conn) emit(ev Event) {
	ev.ConnID = c.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	c.mu.Lock()
	var targets []Listener
	kept := c.listeners[:0]
	for _, l := range c.listeners {
		if l.typ == ev.Type {
			targets = append(targets, l.fn)
			if l.once {
				continue
			}
		}
		kept = append(kept, l)
	}
	// clear the tail so removed listeners can be collected
	for i := len(kept); i < len(c.listeners); i++ {
		c.listeners[i] = nil
	}
	c.listeners = kept
	c.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}
