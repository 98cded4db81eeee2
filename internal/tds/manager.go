package tds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LifecycleType names a connection lifecycle milestone.
type LifecycleType string

const (
	LifecycleConnected     LifecycleType = "connected"
	LifecycleConnectFailed LifecycleType = "connect_failed"
	LifecycleEvicted       LifecycleType = "evicted"
	LifecycleDisconnected  LifecycleType = "disconnected"
	LifecycleProbed        LifecycleType = "probed"
)

// LifecycleEvent is reported to the observer set with SetObserver.
type LifecycleEvent struct {
	Type     LifecycleType
	ConnID   string
	Server   string
	Database string

	// Kind is set for failures and evictions.
	Kind Kind

	// Err is the classified error for failures, or the socket failure
	// that triggered an eviction.
	Err error

	// Duration is the handshake time for connected, connect_failed and
	// probed events, and the connection lifetime otherwise.
	Duration time.Duration
	At       time.Time
}

// Config contains manager settings.
type Config struct {
	// Target is the default connection descriptor. NewManager fills in
	// DefaultPort when Port is zero.
	Target Descriptor

	// ConnectTimeout bounds each handshake. Zero means only the caller's
	// context bounds it.
	ConnectTimeout time.Duration
}

// Deps holds the collaborators of a Manager.
type Deps struct {
	// Transport opens protocol sessions. Required.
	Transport Transport

	// Pool receives eviction requests from the watchdog. Optional.
	Pool Pool

	// Registry is refreshed with BuiltinTypes on construction. Optional.
	Registry TypeRegistry

	// Wrap builds resource handles. Defaults to NewHandle.
	Wrap WrapFunc

	// Diagnostics receives trace events for debug connections.
	// Defaults to debug-level logging.
	Diagnostics Diagnostics

	// Logger defaults to a noop logger.
	Logger Logger
}

// Manager establishes, validates and tears down SQL Server connections.
//
// Connect resolves exactly once per attempt, to a ResourceHandle or to a
// *ClassifiedError. Failures after the handshake never reach the caller;
// they are reported to the Pool as evictions.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Concurrent Connect calls share no mutable state.
type Manager struct {
	cfg         Config
	transport   Transport
	pool        Pool
	registry    TypeRegistry
	wrap        WrapFunc
	diagnostics Diagnostics
	logger      Logger

	observerMu sync.RWMutex
	observer   func(LifecycleEvent)
}

// NewManager creates a manager and loads the built-in type parsers into
// the registry.
//
// Returns:
//   - *Manager: Ready to connect
//   - error: If the transport is missing
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Transport == nil {
		return nil, errors.New("tds: transport is required")
	}
	if cfg.Target.Port == 0 {
		cfg.Target.Port = DefaultPort
	}

	m := &Manager{
		cfg:         cfg,
		transport:   deps.Transport,
		pool:        deps.Pool,
		registry:    deps.Registry,
		wrap:        deps.Wrap,
		diagnostics: deps.Diagnostics,
		logger:      deps.Logger,
	}
	if m.wrap == nil {
		m.wrap = NewHandle
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.diagnostics == nil {
		m.diagnostics = logDiagnostics{logger: m.logger}
	}

	for _, d := range BuiltinTypes() {
		m.RefreshTypeParser(d)
	}

	return m, nil
}

// Target returns the default descriptor, with the port defaulted.
func (m *Manager) Target() Descriptor {
	return m.cfg.Target
}

// SetObserver sets a callback invoked for every lifecycle event.
// The callback runs synchronously and should not block.
func (m *Manager) SetObserver(fn func(LifecycleEvent)) {
	m.observerMu.Lock()
	m.observer = fn
	m.observerMu.Unlock()
}

// SetPool sets the eviction target. Used when the pool is created after
// the manager.
func (m *Manager) SetPool(p Pool) {
	m.observerMu.Lock()
	m.pool = p
	m.observerMu.Unlock()
}

func (m *Manager) getPool() Pool {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()
	return m.pool
}

func (m *Manager) notify(ev LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.observerMu.RLock()
	fn := m.observer
	m.observerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// RefreshTypeParser registers d with the type registry, if one is set.
func (m *Manager) RefreshTypeParser(d TypeDescriptor) {
	if m.registry != nil {
		m.registry.Refresh(d)
	}
}

// Close clears the type registry. Open connections are not touched;
// they belong to their pool.
func (m *Manager) Close() error {
	if m.registry != nil {
		m.registry.Clear()
	}
	return nil
}

// Connect opens a connection to desc and wraps it in a ResourceHandle.
//
// A watchdog stays attached to the connection afterwards: socket failures
// cause the handle to be evicted from the Pool.
//
// Returns:
//   - ResourceHandle: Logged-in connection
//   - error: Always a *ClassifiedError
func (m *Manager) Connect(ctx context.Context, desc Descriptor) (ResourceHandle, error) {
	start := time.Now()
	conn, err := m.handshake(ctx, desc)
	if err != nil {
		ce := m.classify(err)
		m.logger.Warn("sql server connect failed",
			"server", desc.Host,
			"database", desc.Database,
			"kind", ce.Kind,
			"error", ce.Cause,
		)
		m.notify(LifecycleEvent{
			Type:     LifecycleConnectFailed,
			ConnID:   conn.ID(),
			Server:   desc.Host,
			Database: desc.Database,
			Kind:     ce.Kind,
			Err:      ce,
			Duration: time.Since(start),
		})
		return nil, ce
	}

	handle := m.wrap(conn)
	m.attachWatchdog(conn, handle)

	m.logger.Info("sql server connected",
		"conn_id", conn.ID(),
		"server", conn.Options().Address(),
		"database", desc.Database,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	m.notify(LifecycleEvent{
		Type:     LifecycleConnected,
		ConnID:   conn.ID(),
		Server:   desc.Host,
		Database: desc.Database,
		Duration: time.Since(start),
	})
	return handle, nil
}

// handshake races the connect, end and error signals of a new Conn and
// returns the first outcome. The returned Conn is non-nil even on failure.
func (m *Manager) handshake(ctx context.Context, desc Descriptor) (*Conn, error) {
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	opts := Translate(desc)
	conn := newConn(opts)

	outcome := make(chan error, 1)
	var once sync.Once
	var removers []func()
	settle := func(err error) {
		once.Do(func() {
			for _, remove := range removers {
				remove()
			}
			outcome <- err
		})
	}

	removers = append(removers,
		conn.Once(EventConnect, func(ev Event) { settle(ev.Err) }),
		conn.Once(EventEnd, func(Event) { settle(ErrClosedByRemote) }),
		conn.Once(EventError, func(ev Event) { settle(ev.Err) }),
	)

	if opts.Debug() {
		conn.On(EventDebug, m.diagnostics.Trace)
	}

	conn.start(ctx, m.transport)

	var err error
	select {
	case err = <-outcome:
	case <-ctx.Done():
		settle(ctx.Err())
		err = <-outcome
	}

	if err != nil {
		// no-op unless the attempt was abandoned mid-handshake
		_ = conn.Close() //nolint:errcheck // Close only issues a request
		return conn, err
	}
	return conn, nil
}

// classify converts a handshake failure into the error taxonomy.
func (m *Manager) classify(err error) *ClassifiedError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: KindTimeout, Cause: err}
	}
	return Classify(err)
}

// attachWatchdog listens for socket failures for the rest of the
// connection's life and asks the pool to evict the handle. A failure
// reported before the listener was attached evicts immediately. Each
// handle is evicted at most once.
func (m *Manager) attachWatchdog(conn *Conn, handle ResourceHandle) {
	var once sync.Once
	evict := func(err error) {
		once.Do(func() { m.evict(conn, handle, err) })
	}

	remove := conn.On(EventError, func(ev Event) {
		if conn.closing() {
			return
		}
		if !IsSocketFailure(ev.Err) {
			m.logger.Debug("ignoring non-fatal connection error",
				"conn_id", conn.ID(),
				"error", ev.Err,
			)
			return
		}
		evict(ev.Err)
	})

	if !conn.setWatchdog(remove) {
		remove()
		return
	}

	if err := conn.failed(); IsSocketFailure(err) && !conn.closing() {
		evict(err)
	}
}

func (m *Manager) evict(conn *Conn, handle ResourceHandle, err error) {
	kind := Classify(err).Kind
	m.logger.Warn("sql server connection failed, evicting",
		"conn_id", conn.ID(),
		"server", conn.Options().Address(),
		"kind", kind,
		"error", err,
	)
	m.notify(LifecycleEvent{
		Type:     LifecycleEvicted,
		ConnID:   conn.ID(),
		Server:   conn.Options().Server,
		Database: conn.Options().Database,
		Kind:     kind,
		Err:      err,
		Duration: time.Since(conn.CreatedAt()),
	})
	if pool := m.getPool(); pool != nil {
		pool.Evict(handle)
	}
}

// Disconnect closes a handle or raw connection and waits for it to end.
// Disconnecting a connection that is already closed succeeds immediately
// without issuing a close request.
//
// Returns:
//   - error: Only if ctx ends before the connection has closed
func (m *Manager) Disconnect(ctx context.Context, ep Endpoint) error {
	if ep == nil || ep.IsClosed() {
		return nil
	}

	conn := connOf(ep)
	if err := ep.Close(); err != nil {
		m.logger.Debug("close request failed", "conn_id", conn.ID(), "error", err)
	}
	if err := ep.AwaitClosed(ctx); err != nil {
		return fmt.Errorf("waiting for connection %s to close: %w", conn.ID(), err)
	}

	ev := LifecycleEvent{Type: LifecycleDisconnected, ConnID: conn.ID()}
	if conn != nil {
		ev.Server = conn.Options().Server
		ev.Database = conn.Options().Database
		ev.Duration = time.Since(conn.CreatedAt())
	}
	m.logger.Debug("sql server disconnected", "conn_id", ev.ConnID)
	m.notify(ev)
	return nil
}

// Validate reports whether ep is present and logged in. It never fails.
func (m *Manager) Validate(ep Endpoint) bool {
	if ep == nil {
		return false
	}
	return ep.LoggedIn()
}

// ProbeResult describes a reachability probe.
type ProbeResult struct {
	ConnID   string        `json:"conn_id"`
	Server   string        `json:"server"`
	Database string        `json:"database"`
	LoggedIn bool          `json:"logged_in"`
	Latency  time.Duration `json:"latency_ns"`

	// Facts holds server properties read over the session, decoded
	// through the type registry. Empty if the transport cannot inspect.
	Facts map[string]any `json:"facts,omitempty"`
}

// Probe connects to desc without wrapping the connection in a handle or
// attaching a watchdog, checks it, reads server facts and disconnects the
// raw connection. Failing to read facts does not fail the probe.
//
// Returns:
//   - ProbeResult: Handshake latency and login state
//   - error: A *ClassifiedError if the handshake failed
func (m *Manager) Probe(ctx context.Context, desc Descriptor) (ProbeResult, error) {
	start := time.Now()
	conn, err := m.handshake(ctx, desc)
	if err != nil {
		ce := m.classify(err)
		m.notify(LifecycleEvent{
			Type:     LifecycleConnectFailed,
			ConnID:   conn.ID(),
			Server:   desc.Host,
			Database: desc.Database,
			Kind:     ce.Kind,
			Err:      ce,
			Duration: time.Since(start),
		})
		return ProbeResult{}, ce
	}

	result := ProbeResult{
		ConnID:   conn.ID(),
		Server:   conn.Options().Address(),
		Database: desc.Database,
		LoggedIn: m.Validate(conn),
		Latency:  time.Since(start),
	}
	if result.LoggedIn {
		facts, err := m.inspect(ctx, conn)
		if err != nil {
			m.logger.Warn("reading server facts failed", "conn_id", conn.ID(), "error", err)
		}
		result.Facts = facts
	}
	m.notify(LifecycleEvent{
		Type:     LifecycleProbed,
		ConnID:   conn.ID(),
		Server:   desc.Host,
		Database: desc.Database,
		Duration: result.Latency,
	})

	if err := m.Disconnect(ctx, conn); err != nil {
		m.logger.Warn("probe disconnect failed", "conn_id", conn.ID(), "error", err)
	}
	return result, nil
}

// inspect reads server facts from conn and decodes each value with the
// type registry.
func (m *Manager) inspect(ctx context.Context, conn *Conn) (map[string]any, error) {
	in, ok := conn.inspector()
	if !ok {
		return nil, nil
	}
	cols, err := in.Inspect(ctx)
	if err != nil {
		return nil, err
	}

	dec, _ := m.registry.(Decoder)
	facts := make(map[string]any, len(cols))
	for _, col := range cols {
		v := col.Value
		if dec != nil {
			if v, err = dec.Decode(col.Type, col.Value); err != nil {
				return nil, fmt.Errorf("decoding %s (%s): %w", col.Name, col.Type, err)
			}
		}
		facts[col.Name] = v
	}
	return facts, nil
}
