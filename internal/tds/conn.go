package tds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport opens the protocol session behind a Conn.
//
// Dial blocks until the session is authenticated or has failed. While it
// runs, and for the rest of the session's life, the transport reports
// socket activity through sig.
type Transport interface {
	Dial(ctx context.Context, opts TransportOptions, sig Signals) (Link, error)
}

// Link is an authenticated protocol session.
type Link interface {
	// LoggedIn reports whether the session is still authenticated.
	LoggedIn() bool

	// Close tears the session down.
	Close() error
}

// Signals is how a Transport reports asynchronous socket activity.
// *Conn implements it.
type Signals interface {
	// Trace records a protocol trace line.
	Trace(message string)

	// SocketError reports a transport failure.
	SocketError(err error)

	// RemoteClosed reports that the server closed the socket.
	RemoteClosed()
}

// Endpoint is the capability shared by raw connections and resource
// handles, so lifecycle operations accept either.
type Endpoint interface {
	IsClosed() bool
	Close() error
	AwaitClosed(ctx context.Context) error
	LoggedIn() bool
}

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

// Conn is a raw connection to a SQL Server.
//
// Its state is observed through events (connect, error, end) and through
// IsClosed/LoggedIn. A Conn is single-use: once closed it stays closed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listeners run outside the internal lock.
type Conn struct {
	id        string
	opts      TransportOptions
	createdAt time.Time

	mu             sync.Mutex
	state          connState
	link           Link
	failure        error
	listeners      []*listener
	nextListenerID uint64
	watchdog       func()
	done           chan struct{}
}

// newConn creates an idle Conn. Listeners may be attached before start.
func newConn(opts TransportOptions) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		opts:      opts,
		createdAt: time.Now(),
		state:     stateConnecting,
		done:      make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// Options returns the transport options the connection was opened with.
func (c *Conn) Options() TransportOptions {
	return c.opts
}

// CreatedAt returns when the connect attempt started.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// start runs the handshake in the background.
func (c *Conn) start(ctx context.Context, t Transport) {
	go c.run(ctx, t)
}

func (c *Conn) run(ctx context.Context, t Transport) {
	link, err := t.Dial(ctx, c.opts, c)
	if err != nil {
		switch {
		case codeOf(err) == CodeLogin:
			c.emit(Event{Type: EventConnect, Err: err})
		case errors.Is(err, ErrClosedByRemote):
			// finish emits the end event
		default:
			c.emit(Event{Type: EventError, Err: err})
		}
		c.finish()
		return
	}

	c.mu.Lock()
	if c.state != stateConnecting {
		// abandoned while dialing
		c.mu.Unlock()
		_ = link.Close() //nolint:errcheck // session was never handed out
		c.finish()
		return
	}
	c.link = link
	c.state = stateOpen
	c.mu.Unlock()

	c.emit(Event{Type: EventConnect})
}

// Trace implements Signals.
func (c *Conn) Trace(message string) {
	c.emit(Event{Type: EventDebug, Message: message})
}

// SocketError implements Signals. Failures observed while the connection
// is being deliberately closed are dropped.
func (c *Conn) SocketError(err error) {
	c.mu.Lock()
	switch c.state {
	case stateClosing, stateClosed:
		c.mu.Unlock()
		return
	case stateOpen:
		if c.failure == nil || (IsSocketFailure(err) && !IsSocketFailure(c.failure)) {
			c.failure = err
		}
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventError, Err: err})
}

// RemoteClosed implements Signals.
func (c *Conn) RemoteClosed() {
	c.mu.Lock()
	closing := c.state == stateClosing || c.state == stateClosed
	connecting := c.state == stateConnecting
	c.mu.Unlock()

	if closing || connecting {
		// a deliberate close finishes on its own; a handshake finishes
		// when Dial returns
		return
	}
	c.finish()
}

// IsClosed reports whether the connection has fully closed.
// A nil Conn is considered closed.
func (c *Conn) IsClosed() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// LoggedIn reports whether the connection is open and authenticated.
// A nil Conn is never logged in.
func (c *Conn) LoggedIn() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	open := c.state == stateOpen && c.failure == nil
	link := c.link
	c.mu.Unlock()
	return open && link != nil && link.LoggedIn()
}

// Close issues a close request and returns without waiting; use
// AwaitClosed to wait for the end event. Closing a connection that is
// already closing or closed does nothing.
//
// The post-connect watchdog is removed before the end event fires.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	prev := c.state
	if prev == stateClosing || prev == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	link := c.link
	stopWatchdog := c.watchdog
	c.watchdog = nil
	c.mu.Unlock()

	if stopWatchdog != nil {
		stopWatchdog()
	}

	if prev == stateConnecting {
		// run() closes the link and finishes once Dial returns
		return nil
	}

	go func() {
		if link != nil {
			if err := link.Close(); err != nil {
				c.Trace("close: " + err.Error())
			}
		}
		c.finish()
	}()
	return nil
}

// AwaitClosed blocks until the connection has closed or ctx is done.
func (c *Conn) AwaitClosed(ctx context.Context) error {
	if c == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when the connection has closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// closing reports whether a deliberate close is in progress or complete.
func (c *Conn) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosing || c.state == stateClosed
}

// setWatchdog records the watchdog's remove function so Close can detach
// it. It returns false if the connection is already closing.
func (c *Conn) setWatchdog(remove func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosing || c.state == stateClosed {
		return false
	}
	c.watchdog = remove
	return true
}

// inspector returns the open session as an Inspector, if it is one.
func (c *Conn) inspector() (Inspector, bool) {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	in, ok := link.(Inspector)
	return in, ok
}

// failed returns the error reported after the handshake, if any,
// preferring a socket failure over earlier non-fatal errors.
func (c *Conn) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// finish moves the connection to closed and emits the end event once.
func (c *Conn) finish() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.link = nil
	c.watchdog = nil
	close(c.done)
	c.mu.Unlock()

	c.emit(Event{Type: EventEnd})
}
