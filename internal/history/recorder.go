package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// recorderBuffer is how many events may wait for the writer goroutine.
const recorderBuffer = 256

// recordTimeout bounds a single insert.
const recordTimeout = 5 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder writes lifecycle events to a Repository from a background
// goroutine so the manager's observer callback never waits on SQLite.
// When the buffer is full, events are dropped and counted.
type Recorder struct {
	repo   Repository
	logger Logger
	events chan tds.LifecycleEvent

	mu      sync.Mutex
	dropped uint64
	closed  bool

	wg sync.WaitGroup
}

// NewRecorder starts a recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		events: make(chan tds.LifecycleEvent, recorderBuffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Observe queues ev for writing. Safe to use as a manager observer.
func (r *Recorder) Observe(ev tds.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped++
		r.logger.Warn("history buffer full, dropping event",
			"type", ev.Type,
			"conn_id", ev.ConnID,
		)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.repo.Record(ctx, FromEvent(ev)); err != nil {
			r.logger.Warn("recording connection event failed",
				"type", ev.Type,
				"conn_id", ev.ConnID,
				"error", err,
			)
		}
		cancel()
	}
}
