package tds

import (
	"context"
	"time"
)

// ResourceHandle is the unit a pool acquires and releases. It wraps
// exactly one Conn and exposes the same Endpoint capability.
type ResourceHandle interface {
	Endpoint
	ID() string
	Unwrap() *Conn
}

// Pool is the owner of resource handles. The watchdog calls Evict when
// an established connection suffers a fatal socket failure.
type Pool interface {
	Evict(h ResourceHandle)
}

// PoolFunc adapts a function to the Pool interface.
type PoolFunc func(h ResourceHandle)

// Evict calls f(h).
func (f PoolFunc) Evict(h ResourceHandle) { f(h) }

// WrapFunc builds a ResourceHandle around a freshly connected Conn.
type WrapFunc func(c *Conn) ResourceHandle

// Handle is the default ResourceHandle. Every Endpoint method passes
// through to the wrapped Conn.
type Handle struct {
	conn      *Conn
	createdAt time.Time
}

// NewHandle wraps c. It is the default WrapFunc.
func NewHandle(c *Conn) ResourceHandle {
	return &Handle{conn: c, createdAt: time.Now()}
}

// ID returns the wrapped connection's ID.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.conn.ID()
}

// Unwrap returns the wrapped connection.
func (h *Handle) Unwrap() *Conn {
	if h == nil {
		return nil
	}
	return h.conn
}

// CreatedAt returns when the handle was created.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

func (h *Handle) IsClosed() bool                        { return h.Unwrap().IsClosed() }
func (h *Handle) Close() error                          { return h.Unwrap().Close() }
func (h *Handle) AwaitClosed(ctx context.Context) error { return h.Unwrap().AwaitClosed(ctx) }
func (h *Handle) LoggedIn() bool                        { return h.Unwrap().LoggedIn() }

// connOf returns the Conn behind an endpoint, if it exposes one.
func connOf(ep Endpoint) *Conn {
	switch v := ep.(type) {
	case *Conn:
		return v
	case interface{ Unwrap() *Conn }:
		return v.Unwrap()
	default:
		return nil
	}
}
