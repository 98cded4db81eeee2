package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// fakeHandle is a ResourceHandle with no connection behind it.
type fakeHandle struct {
	id     string
	closed atomic.Bool
}

func (h *fakeHandle) ID() string                        { return h.id }
func (h *fakeHandle) Unwrap() *tds.Conn                 { return nil }
func (h *fakeHandle) IsClosed() bool                    { return h.closed.Load() }
func (h *fakeHandle) Close() error                      { h.closed.Store(true); return nil }
func (h *fakeHandle) AwaitClosed(context.Context) error { return nil }
func (h *fakeHandle) LoggedIn() bool                    { return !h.closed.Load() }

// recordingDisconnector closes endpoints and records which ones it saw.
type recordingDisconnector struct {
	mu   sync.Mutex
	seen []tds.Endpoint
	err  error
}

func (d *recordingDisconnector) Disconnect(_ context.Context, ep tds.Endpoint) error {
	d.mu.Lock()
	d.seen = append(d.seen, ep)
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	return ep.Close()
}

func (d *recordingDisconnector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// ============================================================================
// Track / Get / List / Release
// ============================================================================

func TestTrackAndGet(t *testing.T) {
	p := New(&recordingDisconnector{}, nil)
	h := &fakeHandle{id: "a"}

	if err := p.Track(h); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	got, err := p.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != h {
		t.Error("Get() returned a different handle")
	}
	if _, err := p.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	p := New(&recordingDisconnector{}, nil)
	for _, id := range []string{"first", "second"} {
		if err := p.Track(&fakeHandle{id: id}); err != nil {
			t.Fatalf("Track() error = %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	infos := p.List()
	if len(infos) != 2 {
		t.Fatalf("List() returned %d, want 2", len(infos))
	}
	if infos[0].ID != "first" || infos[1].ID != "second" {
		t.Errorf("List() order = %s, %s", infos[0].ID, infos[1].ID)
	}
	if !infos[0].LoggedIn {
		t.Error("LoggedIn = false, want true")
	}
}

func TestRelease(t *testing.T) {
	d := &recordingDisconnector{}
	p := New(d, nil)
	h := &fakeHandle{id: "a"}
	if err := p.Track(h); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	if err := p.Release(context.Background(), "a"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !h.IsClosed() {
		t.Error("released handle was not closed")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
	if err := p.Release(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Release() error = %v, want ErrNotFound", err)
	}
}

// ============================================================================
// Evict / CloseAll
// ============================================================================

func TestEvict(t *testing.T) {
	d := &recordingDisconnector{}
	p := New(d, nil)
	h := &fakeHandle{id: "a"}
	if err := p.Track(h); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	evicted := make(chan string, 1)
	p.SetOnEvict(func(id string) { evicted <- id })

	p.Evict(h)

	if p.Len() != 0 {
		t.Errorf("Len() after Evict = %d, want 0", p.Len())
	}
	select {
	case id := <-evicted:
		if id != "a" {
			t.Errorf("onEvict id = %q, want a", id)
		}
	case <-time.After(time.Second):
		t.Fatal("onEvict not called")
	}

	// CloseAll waits for the background disconnect
	if err := p.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if !h.IsClosed() {
		t.Error("evicted handle was not disconnected")
	}
}

func TestEvictNil(t *testing.T) {
	d := &recordingDisconnector{}
	p := New(d, nil)

	p.Evict(nil)

	if err := p.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if d.count() != 0 {
		t.Errorf("disconnects = %d, want 0", d.count())
	}
}

func TestTrackRejectsEvicted(t *testing.T) {
	t.Run("evicted before track", func(t *testing.T) {
		d := &recordingDisconnector{}
		p := New(d, nil)
		h := &fakeHandle{id: "a"}

		p.Evict(h)

		if err := p.Track(h); !errors.Is(err, ErrEvicted) {
			t.Errorf("Track() error = %v, want ErrEvicted", err)
		}
		if p.Len() != 0 {
			t.Errorf("Len() = %d, want 0", p.Len())
		}
		if err := p.CloseAll(context.Background()); err != nil {
			t.Fatalf("CloseAll() error = %v", err)
		}
		if d.count() != 1 {
			t.Errorf("disconnects = %d, want 1", d.count())
		}
	})

	t.Run("already closed", func(t *testing.T) {
		p := New(&recordingDisconnector{}, nil)
		h := &fakeHandle{id: "a"}
		h.closed.Store(true)

		if err := p.Track(h); !errors.Is(err, ErrEvicted) {
			t.Errorf("Track() error = %v, want ErrEvicted", err)
		}
		if p.Len() != 0 {
			t.Errorf("Len() = %d, want 0", p.Len())
		}
	})
}

func TestEvictAfterCloseAll(t *testing.T) {
	d := &recordingDisconnector{}
	p := New(d, nil)
	if err := p.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}

	h := &fakeHandle{id: "late"}
	p.Evict(h)

	deadline := time.Now().Add(time.Second)
	for !h.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.IsClosed() {
		t.Error("handle evicted after CloseAll was not disconnected")
	}
}

func TestConcurrentEvictDuringCloseAll(t *testing.T) {
	p := New(&recordingDisconnector{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Evict(&fakeHandle{id: string(rune('a' + i%26))})
		}()
	}
	if err := p.CloseAll(context.Background()); err != nil {
		t.Errorf("CloseAll() error = %v", err)
	}
	wg.Wait()
}

func TestCloseAll(t *testing.T) {
	d := &recordingDisconnector{}
	p := New(d, nil)
	handles := []*fakeHandle{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, h := range handles {
		if err := p.Track(h); err != nil {
			t.Fatalf("Track() error = %v", err)
		}
	}

	if err := p.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	for _, h := range handles {
		if !h.IsClosed() {
			t.Errorf("handle %s not closed", h.id)
		}
	}
	if err := p.Track(&fakeHandle{id: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Track() after CloseAll error = %v, want ErrClosed", err)
	}
}

func TestCloseAllJoinsErrors(t *testing.T) {
	errBoom := errors.New("boom")
	p := New(&recordingDisconnector{err: errBoom}, nil)
	_ = p.Track(&fakeHandle{id: "a"}) //nolint:errcheck // open pool
	_ = p.Track(&fakeHandle{id: "b"}) //nolint:errcheck // open pool

	err := p.CloseAll(context.Background())
	if !errors.Is(err, errBoom) {
		t.Errorf("CloseAll() error = %v, want boom", err)
	}
}

// ============================================================================
// Manager integration
// ============================================================================

type stubLink struct{}

func (stubLink) LoggedIn() bool { return true }
func (stubLink) Close() error   { return nil }

// signalTransport hands every dial a stub link and remembers its Signals.
type signalTransport struct {
	sig chan tds.Signals
}

func (s *signalTransport) Dial(_ context.Context, _ tds.TransportOptions, sig tds.Signals) (tds.Link, error) {
	s.sig <- sig
	return stubLink{}, nil
}

func TestWatchdogEvictsFromPool(t *testing.T) {
	transport := &signalTransport{sig: make(chan tds.Signals, 1)}
	mgr, err := tds.NewManager(tds.Config{Target: tds.Descriptor{Host: "db1"}}, tds.Deps{Transport: transport})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	p := New(mgr, nil)
	mgr.SetPool(p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := mgr.Connect(ctx, mgr.Target())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := p.Track(h); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	sig := <-transport.sig

	sig.SocketError(&tds.TransportError{Code: tds.CodeSocket, Message: "read ECONNRESET"})

	if err := h.AwaitClosed(ctx); err != nil {
		t.Fatalf("evicted handle never closed: %v", err)
	}
	if _, err := p.Get(h.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after eviction error = %v, want ErrNotFound", err)
	}
}

func TestEvictedBeforeTrack(t *testing.T) {
	transport := &signalTransport{sig: make(chan tds.Signals, 1)}
	mgr, err := tds.NewManager(tds.Config{Target: tds.Descriptor{Host: "db1"}}, tds.Deps{Transport: transport})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	p := New(mgr, nil)
	mgr.SetPool(p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := mgr.Connect(ctx, mgr.Target())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sig := <-transport.sig
	sig.SocketError(&tds.TransportError{Code: tds.CodeSocket, Message: "read ECONNRESET"})

	if err := p.Track(h); !errors.Is(err, ErrEvicted) {
		t.Fatalf("Track() error = %v, want ErrEvicted", err)
	}
	if err := h.AwaitClosed(ctx); err != nil {
		t.Fatalf("evicted handle never closed: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}
