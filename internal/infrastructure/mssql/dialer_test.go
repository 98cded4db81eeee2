package mssql

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// recordingSignals captures what the dialer reports.
type recordingSignals struct {
	mu           sync.Mutex
	traces       []string
	errs         []error
	remoteClosed int
}

func (s *recordingSignals) Trace(msg string) {
	s.mu.Lock()
	s.traces = append(s.traces, msg)
	s.mu.Unlock()
}

func (s *recordingSignals) SocketError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSignals) RemoteClosed() {
	s.mu.Lock()
	s.remoteClosed++
	s.mu.Unlock()
}

func (s *recordingSignals) snapshot() (traces []string, errs []error, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.traces...), append([]error(nil), s.errs...), s.remoteClosed
}

func pipeConn(armed bool) (*watchedConn, net.Conn, *recordingSignals) {
	local, remote := net.Pipe()
	sig := &recordingSignals{}
	d := newTracingDialer(&net.Dialer{}, sig)
	d.armed.Store(armed)
	return &watchedConn{Conn: local, d: d}, remote, sig
}

func TestWatchedConn(t *testing.T) {
	t.Run("remote close", func(t *testing.T) {
		conn, remote, sig := pipeConn(true)
		defer conn.Close() //nolint:errcheck // Test cleanup

		_ = remote.Close() //nolint:errcheck // simulating server close
		buf := make([]byte, 8)
		if _, err := conn.Read(buf); err == nil {
			t.Fatal("Read() expected error")
		}
		_, _ = conn.Read(buf) //nolint:errcheck // second failure must not report again

		_, errs, closed := sig.snapshot()
		if closed != 1 || len(errs) != 0 {
			t.Errorf("remoteClosed = %d, errs = %v, want 1 and none", closed, errs)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		conn, remote, sig := pipeConn(true)
		defer conn.Close() //nolint:errcheck // Test cleanup

		_ = remote.Close() //nolint:errcheck // simulating server close
		if _, err := conn.Write([]byte("x")); err == nil {
			t.Fatal("Write() expected error")
		}

		_, errs, _ := sig.snapshot()
		if len(errs) != 1 {
			t.Fatalf("errs = %v, want 1", errs)
		}
		if !tds.IsSocketFailure(errs[0]) {
			t.Errorf("IsSocketFailure(%v) = false", errs[0])
		}
	})

	t.Run("own close is silent", func(t *testing.T) {
		conn, remote, sig := pipeConn(true)
		defer remote.Close() //nolint:errcheck // Test cleanup

		_ = conn.Close() //nolint:errcheck // Test
		_, _ = conn.Read(make([]byte, 1)) //nolint:errcheck // Test

		_, errs, closed := sig.snapshot()
		if len(errs) != 0 || closed != 0 {
			t.Errorf("errs = %v, remoteClosed = %d, want none", errs, closed)
		}
	})

	t.Run("silent before login", func(t *testing.T) {
		conn, remote, sig := pipeConn(false)
		defer conn.Close() //nolint:errcheck // Test cleanup

		_ = remote.Close() //nolint:errcheck // Test
		_, _ = conn.Read(make([]byte, 1)) //nolint:errcheck // Test

		_, errs, closed := sig.snapshot()
		if len(errs) != 0 || closed != 0 {
			t.Errorf("errs = %v, remoteClosed = %d, want none", errs, closed)
		}
	})

	t.Run("deadline is silent", func(t *testing.T) {
		conn, remote, sig := pipeConn(true)
		defer remote.Close() //nolint:errcheck // Test cleanup
		defer conn.Close()   //nolint:errcheck // Test cleanup

		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond)) //nolint:errcheck // Test
		_, _ = conn.Read(make([]byte, 1))                               //nolint:errcheck // Test

		_, errs, _ := sig.snapshot()
		if len(errs) != 0 {
			t.Errorf("errs = %v, want none", errs)
		}
	})
}

func TestTracingDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close() //nolint:errcheck // free the port so the dial is refused

	sig := &recordingSignals{}
	d := newTracingDialer(&net.Dialer{Timeout: time.Second}, sig)

	if _, err := d.DialContext(context.Background(), "tcp", addr); err == nil {
		t.Fatal("DialContext() expected error")
	}

	gotAddr, dialErr := d.lastDial()
	if gotAddr != addr || dialErr == nil {
		t.Fatalf("lastDial() = %q, %v", gotAddr, dialErr)
	}

	mapped := mapError(errors.New("unable to open tcp connection"), dialErr, gotAddr)
	if !strings.Contains(mapped.Error(), "connect ECONNREFUSED "+addr) {
		t.Errorf("mapped = %q, want connect ECONNREFUSED %s", mapped.Error(), addr)
	}

	traces, _, _ := sig.snapshot()
	if len(traces) != 2 {
		t.Errorf("traces = %v, want dial and failure", traces)
	}
}

func TestTracingDialerWrapsTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close() //nolint:errcheck // Test cleanup

	d := newTracingDialer(&net.Dialer{Timeout: time.Second}, &recordingSignals{})
	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup

	if _, ok := conn.(*watchedConn); !ok {
		t.Errorf("DialContext() = %T, want *watchedConn", conn)
	}
	if _, dialErr := d.lastDial(); dialErr != nil {
		t.Errorf("lastDial() error = %v after success", dialErr)
	}
}
