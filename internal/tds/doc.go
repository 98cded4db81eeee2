// Package tds manages the lifecycle of SQL Server connections for a
// generic resource pool.
//
// A Manager translates a Descriptor into TransportOptions, races the
// connect, end and error signals of a new Conn to a single outcome, and
// wraps the result in a ResourceHandle. Failures are returned as a
// *ClassifiedError whose Kind callers can branch on:
//
//	h, err := mgr.Connect(ctx, desc)
//	if errors.Is(err, tds.ErrAccessDenied) {
//		// bad credentials
//	}
//
// After a successful connect a watchdog stays attached to the Conn. A
// socket failure (ESOCKET, ECONNRESET) makes it call Pool.Evict with the
// handle. Disconnect removes the watchdog before closing so a deliberate
// close never triggers an eviction.
//
// The protocol itself is behind the Transport interface; the production
// implementation lives in internal/infrastructure/mssql.
package tds
