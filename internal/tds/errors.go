package tds

import (
	"errors"
	"strings"
)

// Transport error codes. These are the machine-readable codes a Transport
// attaches to its failures; Classify maps them onto a Kind.
const (
	CodeSocket       = "ESOCKET"
	CodeConnReset    = "ECONNRESET"
	CodeLogin        = "ELOGIN"
	CodeAccessDenied = "EACCES"
	CodeInvalid      = "EINVAL"
	CodeTimeout      = "ETIMEOUT"
	CodeRequest      = "EREQUEST"
)

// Kind is the stable classification of a connection failure.
// Callers branch on Kind, never on transport codes.
type Kind string

const (
	KindConnection        Kind = "connection_error"
	KindHostNotReachable  Kind = "host_not_reachable"
	KindHostNotFound      Kind = "host_not_found"
	KindConnectionRefused Kind = "connection_refused"
	KindAccessDenied      Kind = "access_denied"
	KindInvalidConnection Kind = "invalid_connection"
	KindTimeout           Kind = "timeout"
)

// Sentinel errors, one per Kind. Use errors.Is() to check them:
//
//	if errors.Is(err, tds.ErrAccessDenied) { ... }
//
// Every classified error also matches ErrConnection.
var (
	ErrConnection        = errors.New("tds: connection error")
	ErrHostNotReachable  = errors.New("tds: host not reachable")
	ErrHostNotFound      = errors.New("tds: host not found")
	ErrConnectionRefused = errors.New("tds: connection refused")
	ErrAccessDenied      = errors.New("tds: access denied")
	ErrInvalidConnection = errors.New("tds: invalid connection")
	ErrTimeout           = errors.New("tds: connect timed out")

	// ErrClosedByRemote is the handshake outcome when the server ends the
	// connection before a connect result was observed.
	ErrClosedByRemote = errors.New("connection closed by remote server")
)

var kindSentinels = map[Kind]error{
	KindConnection:        ErrConnection,
	KindHostNotReachable:  ErrHostNotReachable,
	KindHostNotFound:      ErrHostNotFound,
	KindConnectionRefused: ErrConnectionRefused,
	KindAccessDenied:      ErrAccessDenied,
	KindInvalidConnection: ErrInvalidConnection,
	KindTimeout:           ErrTimeout,
}

// Socket message fragments, checked in order.
var (
	unreachableMarkers = []string{"connect EHOSTUNREACH", "connect ENETUNREACH", "connect EADDRNOTAVAIL"}
	notFoundMarkers    = []string{"getaddrinfo ENOTFOUND"}
	refusedMarkers     = []string{"connect ECONNREFUSED"}
)

// TransportError is a raw failure reported by a Transport.
// It never crosses the Manager boundary; Connect converts it with Classify.
type TransportError struct {
	// Code is the machine-readable code (ESOCKET, ELOGIN, ...). May be empty.
	Code string

	// Message is the human-readable description used for socket classification.
	Message string

	// Number is the server error number, when the server produced the error.
	Number int32

	// Err is the underlying driver or network error.
	Err error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transport error " + e.Code
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClassifiedError is a connection failure with a stable Kind.
//
// Unwrap returns the Kind's sentinel, not the cause, so driver errors
// cannot be matched with errors.As by callers. Cause is kept for logging.
type ClassifiedError struct {
	Kind  Kind
	Cause error
}

func (e *ClassifiedError) Error() string {
	prefix := e.sentinel().Error()
	if e.Cause == nil {
		return prefix
	}
	return prefix + ": " + e.Cause.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.sentinel()
}

// Is reports whether target is this error's kind sentinel or ErrConnection.
func (e *ClassifiedError) Is(target error) bool {
	return target == ErrConnection || target == e.sentinel()
}

func (e *ClassifiedError) sentinel() error {
	if s, ok := kindSentinels[e.Kind]; ok {
		return s
	}
	return ErrConnection
}

// coder is implemented by foreign errors that carry a transport code.
type coder interface {
	Code() string
}

// codeOf extracts the transport code from err, or "" if it has none.
func codeOf(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// Classify maps a raw transport error onto the error taxonomy.
//
// Precedence:
//  1. no code: KindConnection
//  2. ESOCKET: message markers for unreachable / not found / refused, else KindConnection
//  3. ELOGIN, EACCES: KindAccessDenied
//  4. EINVAL: KindInvalidConnection
//  5. anything else: KindConnection
//
// An error that is already classified is returned unchanged.
func Classify(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	code := codeOf(err)
	switch code {
	case "":
		return &ClassifiedError{Kind: KindConnection, Cause: err}
	case CodeSocket:
		return &ClassifiedError{Kind: classifySocket(err.Error()), Cause: err}
	case CodeLogin, CodeAccessDenied:
		return &ClassifiedError{Kind: KindAccessDenied, Cause: err}
	case CodeInvalid:
		return &ClassifiedError{Kind: KindInvalidConnection, Cause: err}
	default:
		return &ClassifiedError{Kind: KindConnection, Cause: err}
	}
}

func classifySocket(message string) Kind {
	switch {
	case containsAny(message, unreachableMarkers):
		return KindHostNotReachable
	case containsAny(message, notFoundMarkers):
		return KindHostNotFound
	case containsAny(message, refusedMarkers):
		return KindConnectionRefused
	default:
		return KindConnection
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsSocketFailure reports whether err is a socket reset or socket error,
// the class of post-handshake failures that poison a connection.
func IsSocketFailure(err error) bool {
	switch codeOf(err) {
	case CodeSocket, CodeConnReset:
		return true
	default:
		return false
	}
}
