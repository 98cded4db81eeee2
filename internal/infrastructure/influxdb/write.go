package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// Measurement names.
const (
	MeasurementHandshake = "tds_handshake"
	MeasurementEviction  = "tds_eviction"
	MeasurementSession   = "tds_session"
	MeasurementPool      = "tds_pool"
)

// outcomeSuccess tags successful handshakes.
const outcomeSuccess = "success"

// LifecyclePoint converts a lifecycle event into a point, or nil for
// event types that are not recorded.
//
//	tds_handshake  server, database, outcome, type  duration_ms
//	tds_eviction   server, database, kind           lifetime_ms
//	tds_session    server, database                 lifetime_ms
func LifecyclePoint(ev tds.LifecycleEvent) *write.Point {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	tags := map[string]string{
		"server":   ev.Server,
		"database": ev.Database,
	}

	switch ev.Type {
	case tds.LifecycleConnected, tds.LifecycleProbed:
		tags["outcome"] = outcomeSuccess
		tags["type"] = string(ev.Type)
		return write.NewPoint(MeasurementHandshake, tags,
			map[string]any{"duration_ms": ev.Duration.Milliseconds()}, at)
	case tds.LifecycleConnectFailed:
		tags["outcome"] = string(ev.Kind)
		tags["type"] = string(ev.Type)
		return write.NewPoint(MeasurementHandshake, tags,
			map[string]any{"duration_ms": ev.Duration.Milliseconds()}, at)
	case tds.LifecycleEvicted:
		tags["kind"] = string(ev.Kind)
		return write.NewPoint(MeasurementEviction, tags,
			map[string]any{"lifetime_ms": ev.Duration.Milliseconds()}, at)
	case tds.LifecycleDisconnected:
		return write.NewPoint(MeasurementSession, tags,
			map[string]any{"lifetime_ms": ev.Duration.Milliseconds()}, at)
	default:
		return nil
	}
}

// Observe writes ev as a point. Safe to use as a manager observer; the
// write is buffered and never blocks.
func (c *Client) Observe(ev tds.LifecycleEvent) {
	if !c.IsConnected() {
		return
	}
	if p := LifecyclePoint(ev); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// WritePoolSize records how many handles the pool holds.
func (c *Client) WritePoolSize(tracked int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementPool, nil,
		map[string]any{"tracked": tracked}, time.Now()))
}
