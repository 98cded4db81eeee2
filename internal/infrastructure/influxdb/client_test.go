package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/tdsconn/internal/infrastructure/config"
	"github.com/nerrad567/tdsconn/internal/tds"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "tdsconn-dev-token",
		Org:           "tdsconn",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{"configured", 500, 2, 500, 2},
		{"zero uses defaults", 0, 0, defaultBatchSize, defaultFlushInterval},
		{"negative uses defaults", -1, -10, defaultBatchSize, defaultFlushInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, flush := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if batch != tt.wantBatch || flush != tt.wantFlush {
				t.Errorf("batchSettings() = %d, %d, want %d, %d", batch, flush, tt.wantBatch, tt.wantFlush)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a zero client")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes on a disconnected client are no-ops
	c.Observe(tds.LifecycleEvent{Type: tds.LifecycleConnected})
	c.WritePoolSize(3)
	c.Flush()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
}

// =============================================================================
// Point Tests
// =============================================================================

func TestLifecyclePoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		ev          tds.LifecycleEvent
		wantName    string
		wantTag     string
		wantTagVal  string
		wantField   string
		wantFieldMS int64
	}{
		{
			name:     "connected",
			ev:       tds.LifecycleEvent{Type: tds.LifecycleConnected, Server: "db1", Duration: 42 * time.Millisecond, At: at},
			wantName: MeasurementHandshake, wantTag: "outcome", wantTagVal: "success",
			wantField: "duration_ms", wantFieldMS: 42,
		},
		{
			name:     "connect failed",
			ev:       tds.LifecycleEvent{Type: tds.LifecycleConnectFailed, Server: "db1", Kind: tds.KindTimeout, Duration: 15 * time.Second, At: at},
			wantName: MeasurementHandshake, wantTag: "outcome", wantTagVal: string(tds.KindTimeout),
			wantField: "duration_ms", wantFieldMS: 15000,
		},
		{
			name:     "evicted",
			ev:       tds.LifecycleEvent{Type: tds.LifecycleEvicted, Kind: tds.KindConnection, Duration: time.Minute, At: at},
			wantName: MeasurementEviction, wantTag: "kind", wantTagVal: string(tds.KindConnection),
			wantField: "lifetime_ms", wantFieldMS: 60000,
		},
		{
			name:     "disconnected",
			ev:       tds.LifecycleEvent{Type: tds.LifecycleDisconnected, Server: "db2", Duration: time.Second, At: at},
			wantName: MeasurementSession, wantTag: "server", wantTagVal: "db2",
			wantField: "lifetime_ms", wantFieldMS: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LifecyclePoint(tt.ev)
			if p == nil {
				t.Fatal("LifecyclePoint() = nil")
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if !p.Time().Equal(at) {
				t.Errorf("Time() = %v, want %v", p.Time(), at)
			}

			var tagVal string
			for _, tag := range p.TagList() {
				if tag.Key == tt.wantTag {
					tagVal = tag.Value
				}
			}
			if tagVal != tt.wantTagVal {
				t.Errorf("tag %s = %q, want %q", tt.wantTag, tagVal, tt.wantTagVal)
			}

			var fieldVal any
			for _, f := range p.FieldList() {
				if f.Key == tt.wantField {
					fieldVal = f.Value
				}
			}
			if fieldVal != tt.wantFieldMS {
				t.Errorf("field %s = %v, want %d", tt.wantField, fieldVal, tt.wantFieldMS)
			}
		})
	}
}

func TestLifecyclePointUnknownType(t *testing.T) {
	if p := LifecyclePoint(tds.LifecycleEvent{Type: "other"}); p != nil {
		t.Errorf("LifecyclePoint() = %v, want nil", p)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestObserveAndFlush(t *testing.T) {
	client := connectOrSkip(t)

	writeErrs := make(chan error, 10)
	client.SetOnError(func(err error) {
		select {
		case writeErrs <- err:
		default:
		}
	})

	client.Observe(tds.LifecycleEvent{Type: tds.LifecycleConnected, Server: "db1", Duration: 10 * time.Millisecond})
	client.WritePoolSize(1)
	client.Flush()

	select {
	case err := <-writeErrs:
		t.Errorf("write error = %v", err)
	default:
	}
}
