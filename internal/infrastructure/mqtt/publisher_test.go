package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return f.err
}

type recordingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestLifecyclePublisher(t *testing.T) {
	client := &fakePublisher{}
	pub := NewLifecyclePublisher(client, 1, nil)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleConnected, ConnID: "c1", Server: "db1", Duration: 40 * time.Millisecond, At: at})
	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleProbed, ConnID: "c2", Server: "db1", At: at})
	pub.Close()

	if len(client.msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(client.msgs))
	}

	first := client.msgs[0]
	if first.topic != "tdsconn/connection/c1/connected" || first.qos != 1 || first.retained {
		t.Errorf("first message = %+v", first)
	}
	msg, err := DecodeLifecycleMessage(first.payload)
	if err != nil {
		t.Fatalf("DecodeLifecycleMessage() error = %v", err)
	}
	if msg.ConnID != "c1" || msg.DurationMS != 40 || !msg.Timestamp.Equal(at) {
		t.Errorf("decoded = %+v", msg)
	}

	probe := client.msgs[2]
	if probe.topic != "tdsconn/probe/db1" || !probe.retained {
		t.Errorf("probe message = %+v", probe)
	}
}

func TestLifecyclePublisherFailureMessage(t *testing.T) {
	client := &fakePublisher{}
	pub := NewLifecyclePublisher(client, 0, nil)

	ce := &tds.ClassifiedError{Kind: tds.KindConnectionRefused, Cause: errors.New("connect ECONNREFUSED 10.0.0.1:1433")}
	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleConnectFailed, Server: "10.0.0.1", Kind: ce.Kind, Err: ce})
	pub.Close()

	if len(client.msgs) != 2 {
		t.Fatalf("published %d messages, want event and retained probe", len(client.msgs))
	}
	msg, err := DecodeLifecycleMessage(client.msgs[0].payload)
	if err != nil {
		t.Fatalf("DecodeLifecycleMessage() error = %v", err)
	}
	if msg.Kind != string(tds.KindConnectionRefused) || msg.Error != ce.Error() {
		t.Errorf("decoded = %+v", msg)
	}
}

func TestLifecyclePublisherLogsFailures(t *testing.T) {
	client := &fakePublisher{err: ErrNotConnected}
	logger := &recordingLogger{}
	pub := NewLifecyclePublisher(client, 0, logger)

	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleDisconnected, ConnID: "c1"})
	pub.Close()

	if logger.warns != 1 {
		t.Errorf("warns = %d, want 1", logger.warns)
	}

	// closed publishers ignore new events
	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleDisconnected, ConnID: "c2"})
	pub.Close()
	if len(client.msgs) != 1 {
		t.Errorf("published %d messages, want 1", len(client.msgs))
	}
}

func TestDecodeLifecycleMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"type":"evicted","conn_id":"c1","kind":"connection_error"}`, false},
		{"not json", `nope`, true},
		{"missing type", `{"conn_id":"c1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLifecycleMessage([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeLifecycleMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}
