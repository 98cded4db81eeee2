// Package influxdb records connection telemetry in InfluxDB v2.
//
// Handshake latency (per outcome), evictions and session lifetimes are
// written from the manager's lifecycle events; the serve command also
// samples the pool size. Writes are batched and non-blocking.
package influxdb
