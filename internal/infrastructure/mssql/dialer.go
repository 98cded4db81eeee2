package mssql

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// tracingDialer implements the go-mssqldb Dialer interface for a single
// handshake. It remembers the last dial failure, which the driver would
// otherwise flatten into a string.
type tracingDialer struct {
	dialer *net.Dialer
	sig    tds.Signals

	// armed is set after login; failures before that are returned by Dial.
	armed atomic.Bool

	mu       sync.Mutex
	lastErr  error
	lastAddr string
}

func newTracingDialer(dialer *net.Dialer, sig tds.Signals) *tracingDialer {
	return &tracingDialer{dialer: dialer, sig: sig}
}

// DialContext dials addr and wraps TCP connections. UDP (SQL Browser
// instance lookups) passes through untouched.
func (d *tracingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.sig.Trace("dial " + network + " " + addr)

	conn, err := d.dialer.DialContext(ctx, network, addr)

	d.mu.Lock()
	d.lastAddr = addr
	d.lastErr = err
	d.mu.Unlock()

	if err != nil {
		d.sig.Trace("dial " + addr + " failed: " + err.Error())
		return nil, err
	}
	if !strings.HasPrefix(network, "tcp") {
		return conn, nil
	}
	return &watchedConn{Conn: conn, d: d}, nil
}

// lastDial returns the address and error of the most recent dial.
func (d *tracingDialer) lastDial() (addr string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAddr, d.lastErr
}

// watchedConn reports the first fatal read or write failure after login.
type watchedConn struct {
	net.Conn
	d      *tracingDialer
	once   sync.Once
	closed atomic.Bool
}

func (c *watchedConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func (c *watchedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil {
		c.report(err)
	}
	return n, err
}

func (c *watchedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err != nil {
		c.report(err)
	}
	return n, err
}

func (c *watchedConn) report(err error) {
	if !c.d.armed.Load() || c.closed.Load() {
		return
	}
	// our own close, or a query deadline the driver recovers from
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return
	}

	c.once.Do(func() {
		if errors.Is(err, io.EOF) {
			c.d.sig.RemoteClosed()
			return
		}
		mapped := mapSocketError(err, c.RemoteAddr().String())
		if mapped == nil {
			mapped = &tds.TransportError{Code: tds.CodeSocket, Message: err.Error(), Err: err}
		}
		c.d.sig.SocketError(mapped)
	})
}
