// Package mssql provides the SQL Server transport for the tds connection
// manager.
//
// This package manages:
//   - Building go-mssqldb connection strings from tds.TransportOptions
//   - Dialing through a tracing dialer that reports socket failures
//   - Normalising driver and network errors into tds.TransportError codes
//   - Routing driver protocol logs to per-connection trace listeners
//
// # Architecture
//
// The tds package owns the connection lifecycle; this package owns the wire.
//
//	tds.Manager → mssql.Transport → go-mssqldb Connector → net.Conn
//
// Every TCP connection the driver opens is wrapped. Once login completes,
// read and write failures are reported as tds signals, so the manager's
// watchdog sees a reset socket the first time the driver touches it.
//
// # Security Considerations
//
//   - Passwords travel only inside the DSN handed to the driver
//   - Set encrypt=true (sub-option) for connections crossing untrusted networks
//   - Trace output (debug option) never includes the password
//
// # Usage
//
//	transport := mssql.New(cfg.Handshake, logger)
//	mgr, err := tds.NewManager(tds.Config{Target: cfg.Target}, tds.Deps{
//	    Transport: transport,
//	})
package mssql
