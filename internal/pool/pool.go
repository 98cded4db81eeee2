// Package pool keeps track of live connection handles.
//
// It is the eviction target for the manager's watchdog: a handle whose
// socket fails is removed and disconnected in the background. Sizing and
// idle policies are out of scope.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// ErrNotFound is returned when no tracked handle has the given ID.
var ErrNotFound = errors.New("pool: handle not found")

// ErrClosed is returned by Track after CloseAll.
var ErrClosed = errors.New("pool: closed")

// ErrEvicted is returned by Track for a handle that was already evicted
// or has closed.
var ErrEvicted = errors.New("pool: handle evicted")

// evictTimeout bounds the background disconnect of an evicted handle.
const evictTimeout = 10 * time.Second

// Disconnector closes handles. *tds.Manager implements it.
type Disconnector interface {
	Disconnect(ctx context.Context, ep tds.Endpoint) error
}

// Logger is the logging interface used by the pool.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Info describes a tracked handle.
type Info struct {
	ID        string    `json:"id"`
	Server    string    `json:"server"`
	Database  string    `json:"database"`
	LoggedIn  bool      `json:"logged_in"`
	TrackedAt time.Time `json:"tracked_at"`
}

type entry struct {
	handle    tds.ResourceHandle
	trackedAt time.Time
}

// Pool holds live handles by ID.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Pool struct {
	disconnector Disconnector
	logger       Logger

	mu      sync.RWMutex
	handles map[string]entry
	evicted map[string]time.Time
	closed  bool
	onEvict func(id string)

	wg sync.WaitGroup
}

// New creates an empty pool that disconnects through d.
func New(d Disconnector, logger Logger) *Pool {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pool{
		disconnector: d,
		logger:       logger,
		handles:      make(map[string]entry),
		evicted:      make(map[string]time.Time),
	}
}

// SetOnEvict sets a callback invoked with the ID of each evicted handle.
func (p *Pool) SetOnEvict(fn func(id string)) {
	p.mu.Lock()
	p.onEvict = fn
	p.mu.Unlock()
}

// Track adds h to the pool. A handle the watchdog evicted before it was
// tracked is rejected with ErrEvicted.
func (p *Pool) Track(h tds.ResourceHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.evicted[h.ID()]; ok {
		delete(p.evicted, h.ID())
		return ErrEvicted
	}
	if h.IsClosed() {
		return ErrEvicted
	}
	p.handles[h.ID()] = entry{handle: h, trackedAt: time.Now()}
	return nil
}

// Get returns the tracked handle with the given ID.
func (p *Pool) Get(id string) (tds.ResourceHandle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.handles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.handle, nil
}

// Len returns the number of tracked handles.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// List describes every tracked handle, oldest first.
func (p *Pool) List() []Info {
	p.mu.RLock()
	infos := make([]Info, 0, len(p.handles))
	for id, e := range p.handles {
		info := Info{ID: id, LoggedIn: e.handle.LoggedIn(), TrackedAt: e.trackedAt}
		if c := e.handle.Unwrap(); c != nil {
			info.Server = c.Options().Address()
			info.Database = c.Options().Database
		}
		infos = append(infos, info)
	}
	p.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].TrackedAt.Equal(infos[j].TrackedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].TrackedAt.Before(infos[j].TrackedAt)
	})
	return infos
}

// Release removes the handle from the pool and disconnects it.
func (p *Pool) Release(ctx context.Context, id string) error {
	h, ok := p.remove(id)
	if !ok {
		return ErrNotFound
	}
	return p.disconnector.Disconnect(ctx, h)
}

// Evict implements tds.Pool. The handle is removed immediately and
// disconnected in the background. Evicting an untracked handle still
// disconnects it, and a later Track of it fails.
func (p *Pool) Evict(h tds.ResourceHandle) {
	if h == nil {
		return
	}
	id := h.ID()

	p.mu.Lock()
	if _, ok := p.handles[id]; ok {
		delete(p.handles, id)
	} else {
		p.pruneEvicted()
		p.evicted[id] = time.Now()
	}
	onEvict := p.onEvict
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	p.logger.Warn("evicting connection", "conn_id", id)
	if onEvict != nil {
		onEvict(id)
	}

	go func() {
		if !closed {
			defer p.wg.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		if err := p.disconnector.Disconnect(ctx, h); err != nil {
			p.logger.Warn("disconnecting evicted connection failed", "conn_id", id, "error", err)
		}
	}()
}

// pruneEvicted forgets evictions of handles that were never tracked.
// Caller must hold p.mu.
func (p *Pool) pruneEvicted() {
	cutoff := time.Now().Add(-evictTimeout)
	for id, at := range p.evicted {
		if at.Before(cutoff) {
			delete(p.evicted, id)
		}
	}
}

// CloseAll disconnects every tracked handle and waits for pending
// evictions. The pool rejects new handles afterwards.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := make([]tds.ResourceHandle, 0, len(p.handles))
	for _, e := range p.handles {
		handles = append(handles, e.handle)
	}
	p.handles = make(map[string]entry)
	p.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := p.disconnector.Disconnect(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	p.wg.Wait()

	if len(handles) > 0 {
		p.logger.Info("pool closed", "disconnected", len(handles)-len(errs))
	}
	return errors.Join(errs...)
}

func (p *Pool) remove(id string) (tds.ResourceHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.handles[id]
	if ok {
		delete(p.handles, id)
	}
	return e.handle, ok
}
