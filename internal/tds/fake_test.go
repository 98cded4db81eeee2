package tds

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLink is an in-memory protocol session.
type fakeLink struct {
	loggedIn atomic.Bool
	closes   atomic.Int32
	onClose  func()
}

func newFakeLink() *fakeLink {
	l := &fakeLink{}
	l.loggedIn.Store(true)
	return l
}

func (l *fakeLink) LoggedIn() bool { return l.loggedIn.Load() }

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	if l.onClose != nil {
		l.onClose()
	}
	return nil
}

// inspectingLink is a fakeLink that reports scripted server facts.
type inspectingLink struct {
	*fakeLink
	cols []Column
	err  error
}

func (l *inspectingLink) Inspect(context.Context) ([]Column, error) {
	return l.cols, l.err
}

// dialFunc scripts one handshake.
type dialFunc func(ctx context.Context, opts TransportOptions, sig Signals) (Link, error)

// fakeTransport records the signals of the last dial so tests can inject
// post-connect failures.
type fakeTransport struct {
	dial dialFunc

	mu   sync.Mutex
	sig  Signals
	opts TransportOptions
}

func (f *fakeTransport) Dial(ctx context.Context, opts TransportOptions, sig Signals) (Link, error) {
	f.mu.Lock()
	f.sig = sig
	f.opts = opts
	f.mu.Unlock()
	return f.dial(ctx, opts, sig)
}

func (f *fakeTransport) signals() Signals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sig
}

func (f *fakeTransport) lastOptions() TransportOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

// succeedWith returns a dial that logs in immediately.
func succeedWith(link *fakeLink) dialFunc {
	return func(context.Context, TransportOptions, Signals) (Link, error) {
		return link, nil
	}
}

// failWith returns a dial that fails immediately.
func failWith(err error) dialFunc {
	return func(context.Context, TransportOptions, Signals) (Link, error) {
		return nil, err
	}
}

// recordingPool collects evicted handles.
type recordingPool struct {
	mu      sync.Mutex
	evicted []ResourceHandle
}

func (p *recordingPool) Evict(h ResourceHandle) {
	p.mu.Lock()
	p.evicted = append(p.evicted, h)
	p.mu.Unlock()
}

func (p *recordingPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.evicted)
}

// newTestManager builds a manager around a fake transport.
func newTestManager(t *testing.T, dial dialFunc, pool Pool) (*Manager, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{dial: dial}
	m, err := NewManager(Config{Target: Descriptor{Host: "db1"}}, Deps{
		Transport: ft,
		Pool:      pool,
		Registry:  NewParserRegistry(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, ft
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func mustClassified(t *testing.T, err error) *ClassifiedError {
	t.Helper()
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v (%T), want *ClassifiedError", err, err)
	}
	return ce
}
