package mssql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// Server error numbers that mean the login itself was rejected.
var loginErrorNumbers = map[int32]bool{
	18456: true, // login failed for user
	18452: true, // untrusted domain
	18486: true, // account locked out
	18487: true, // password expired
	18488: true, // password must be changed
	4060:  true, // cannot open database requested by the login
}

// socketErrnos maps dial errnos to their canonical names, checked in order.
var socketErrnos = []struct {
	errno syscall.Errno
	name  string
}{
	{syscall.ECONNREFUSED, "ECONNREFUSED"},
	{syscall.EHOSTUNREACH, "EHOSTUNREACH"},
	{syscall.ENETUNREACH, "ENETUNREACH"},
	{syscall.EADDRNOTAVAIL, "EADDRNOTAVAIL"},
}

// mapError converts a driver or network error into a tds.TransportError.
//
// dialErr is the last error seen by the tracing dialer, if any. The driver
// formats dial failures with %v, so the original is only available there.
//
// Context errors are returned unchanged so the manager can recognise a
// handshake timeout.
func mapError(err, dialErr error, addr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var te *tds.TransportError
	if errors.As(err, &te) {
		return err
	}

	var serverErr mssqldb.Error
	if errors.As(err, &serverErr) {
		code := tds.CodeRequest
		if loginErrorNumbers[serverErr.Number] {
			code = tds.CodeLogin
		}
		return &tds.TransportError{
			Code:    code,
			Message: serverErr.Message,
			Number:  serverErr.Number,
			Err:     err,
		}
	}

	if dialErr != nil {
		if mapped := mapSocketError(dialErr, addr); mapped != nil {
			mapped.Err = err
			return mapped
		}
	}
	if mapped := mapSocketError(err, addr); mapped != nil {
		return mapped
	}

	return &tds.TransportError{Err: err}
}

// mapSocketError normalises network failures to ESOCKET / ECONNRESET with
// the canonical messages the classifier looks for. It returns nil for
// errors that are not network failures.
func mapSocketError(err error, addr string) *tds.TransportError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return &tds.TransportError{
			Code:    tds.CodeSocket,
			Message: "getaddrinfo ENOTFOUND " + dnsErr.Name,
			Err:     err,
		}
	}

	for _, se := range socketErrnos {
		if errors.Is(err, se.errno) {
			return &tds.TransportError{
				Code:    tds.CodeSocket,
				Message: fmt.Sprintf("connect %s %s", se.name, addr),
				Err:     err,
			}
		}
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return &tds.TransportError{
			Code:    tds.CodeConnReset,
			Message: "read ECONNRESET",
			Err:     err,
		}
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &tds.TransportError{
			Code:    tds.CodeTimeout,
			Message: "socket timeout",
			Err:     err,
		}
	}

	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &netErr) {
		return &tds.TransportError{
			Code:    tds.CodeSocket,
			Message: err.Error(),
			Err:     err,
		}
	}

	return nil
}

// invalidOptions reports a connection string the driver refused to parse.
func invalidOptions(err error) error {
	return &tds.TransportError{
		Code:    tds.CodeInvalid,
		Message: "invalid connection options: " + err.Error(),
		Err:     err,
	}
}
