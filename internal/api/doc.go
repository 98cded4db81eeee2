// Package api implements the diagnostics HTTP API and WebSocket stream.
//
// This package provides:
//   - REST endpoints to open, inspect and release tracked connections
//   - A probe endpoint that checks reachability without keeping a connection
//   - Connection history queries backed by the SQLite journal
//   - A WebSocket hub streaming lifecycle events and protocol traces
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, JWT bearer auth)
//
// # Security
//
// When security.jwt.secret is set, every /api/v1 route except /health
// requires an HS256 bearer token; `tdsconn token` issues one. WebSocket
// clients exchange their token for a single-use ticket so the JWT never
// appears in a URL. Without a secret the API is open, for local use.
//
// # Graceful Degradation
//
// History, MQTT and the database are optional. Without a history
// repository /history returns 503; everything else keeps working.
package api
