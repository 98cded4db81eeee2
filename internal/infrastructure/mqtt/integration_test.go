//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "tdsconn-int-health"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_LifecycleRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "tdsconn-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan LifecycleMessage, 1)
	err = client.Subscribe(Topics{}.ConnectionEvents("int-c1"), 1, func(_ string, payload []byte) error {
		msg, err := DecodeLifecycleMessage(payload)
		if err != nil {
			return err
		}
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.ConnectionEvents("int-c1")) {
		t.Error("subscription not tracked")
	}

	pub := NewLifecyclePublisher(client, 1, nil)
	pub.Observe(tds.LifecycleEvent{Type: tds.LifecycleEvicted, ConnID: "int-c1", Kind: tds.KindConnection, At: time.Now()})
	pub.Close()

	select {
	case msg := <-received:
		if msg.Type != "evicted" {
			t.Errorf("Type = %q, want evicted", msg.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle message not received")
	}

	if err := client.Unsubscribe(Topics{}.ConnectionEvents("int-c1")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
