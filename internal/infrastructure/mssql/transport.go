package mssql

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/nerrad567/tdsconn/internal/infrastructure/config"
	"github.com/nerrad567/tdsconn/internal/tds"
)

// Default socket settings.
const (
	defaultDialTimeout = 15 * time.Second
	defaultKeepAlive   = 30 * time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// installContextLogger routes driver logs to the connection that produced
// them. The driver logger is process-wide, so it is installed once.
var installContextLogger sync.Once

// Transport opens SQL Server sessions with go-mssqldb.
//
// Thread Safety:
//   - Dial is safe for concurrent use; each call gets its own connector
//     and dialer.
type Transport struct {
	cfg    config.HandshakeConfig
	logger Logger
}

// New creates a Transport.
//
// Parameters:
//   - cfg: Handshake settings (dial timeout, keepalive, application name)
//   - logger: Optional; nil disables logging
//
// Returns:
//   - *Transport: Ready to pass to tds.NewManager
func New(cfg config.HandshakeConfig, logger Logger) *Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	installContextLogger.Do(func() {
		mssqldb.SetContextLogger(contextLogger{})
	})
	return &Transport{cfg: cfg, logger: logger}
}

// Dial implements tds.Transport. It blocks until login completes or fails.
func (t *Transport) Dial(ctx context.Context, opts tds.TransportOptions, sig tds.Signals) (tds.Link, error) {
	dsn := BuildDSN(opts, t.cfg.AppName)

	connector, err := mssqldb.NewConnector(dsn)
	if err != nil {
		return nil, invalidOptions(err)
	}

	dialer := newTracingDialer(&net.Dialer{
		Timeout:   t.dialTimeout(),
		KeepAlive: t.keepAlive(),
	}, sig)
	connector.Dialer = dialer

	t.logger.Debug("dialing sql server", "dsn", redactDSN(dsn))

	conn, err := connector.Connect(withSignals(ctx, sig))
	if err != nil {
		addr, dialErr := dialer.lastDial()
		if addr == "" {
			addr = opts.Address()
		}
		if dialErr == nil && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return nil, tds.ErrClosedByRemote
		}
		return nil, mapError(err, dialErr, addr)
	}

	dialer.armed.Store(true)
	return &link{conn: conn}, nil
}

func (t *Transport) dialTimeout() time.Duration {
	if t.cfg.DialTimeout > 0 {
		return time.Duration(t.cfg.DialTimeout) * time.Second
	}
	return defaultDialTimeout
}

func (t *Transport) keepAlive() time.Duration {
	if t.cfg.KeepAlive > 0 {
		return time.Duration(t.cfg.KeepAlive) * time.Second
	}
	return defaultKeepAlive
}

// link is an authenticated go-mssqldb session.
type link struct {
	conn driver.Conn
}

// LoggedIn reports the driver's own view of the session.
func (l *link) LoggedIn() bool {
	if v, ok := l.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (l *link) Close() error {
	return l.conn.Close()
}

type signalsKey struct{}

func withSignals(ctx context.Context, sig tds.Signals) context.Context {
	return context.WithValue(ctx, signalsKey{}, sig)
}

// contextLogger forwards driver log lines to the Signals stored in the
// handshake context. Lines logged outside a handshake are dropped.
type contextLogger struct{}

func (contextLogger) Log(ctx context.Context, _ msdsn.Log, msg string) {
	if ctx == nil {
		return
	}
	if sig, ok := ctx.Value(signalsKey{}).(tds.Signals); ok {
		sig.Trace(msg)
	}
}
