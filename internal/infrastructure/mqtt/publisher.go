package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// publisherBuffer is how many messages may wait for the publish goroutine.
const publisherBuffer = 128

// LifecycleMessage is the JSON payload published for each lifecycle event.
type LifecycleMessage struct {
	Type       string    `json:"type"`
	ConnID     string    `json:"conn_id,omitempty"`
	Server     string    `json:"server,omitempty"`
	Database   string    `json:"database,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewLifecycleMessage converts a manager event into its wire form.
func NewLifecycleMessage(ev tds.LifecycleEvent) LifecycleMessage {
	msg := LifecycleMessage{
		Type:       string(ev.Type),
		ConnID:     ev.ConnID,
		Server:     ev.Server,
		Database:   ev.Database,
		Kind:       string(ev.Kind),
		DurationMS: ev.Duration.Milliseconds(),
		Timestamp:  ev.At.UTC(),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// DecodeLifecycleMessage parses a payload received on a connection topic.
func DecodeLifecycleMessage(payload []byte) (LifecycleMessage, error) {
	var msg LifecycleMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return LifecycleMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return LifecycleMessage{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return msg, nil
}

// Publisher is the subset of *Client used by LifecyclePublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// LifecyclePublisher publishes manager lifecycle events to MQTT from a
// background goroutine. Probe results are also retained per server so a
// new subscriber sees the last known reachability.
type LifecyclePublisher struct {
	client Publisher
	qos    byte
	logger Logger
	queue  chan outbound

	mu      sync.Mutex
	closed  bool
	dropped uint64

	wg sync.WaitGroup
}

// NewLifecyclePublisher starts a publisher on client.
func NewLifecyclePublisher(client Publisher, qos byte, logger Logger) *LifecyclePublisher {
	p := &LifecyclePublisher{
		client: client,
		qos:    qos,
		logger: logger,
		queue:  make(chan outbound, publisherBuffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Observe queues ev for publishing. Safe to use as a manager observer.
func (p *LifecyclePublisher) Observe(ev tds.LifecycleEvent) {
	payload, err := json.Marshal(NewLifecycleMessage(ev))
	if err != nil {
		return
	}

	p.enqueue(outbound{topic: Topics{}.ConnectionEvent(ev.ConnID, string(ev.Type)), payload: payload})
	if ev.Type == tds.LifecycleProbed || (ev.Type == tds.LifecycleConnectFailed && ev.Server != "") {
		p.enqueue(outbound{topic: Topics{}.Probe(ev.Server), payload: payload, retained: true})
	}
}

func (p *LifecyclePublisher) enqueue(m outbound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- m:
	default:
		p.dropped++
	}
}

// Dropped returns how many messages were discarded because the queue was full.
func (p *LifecyclePublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting events and waits for queued messages.
func (p *LifecyclePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *LifecyclePublisher) run() {
	defer p.wg.Done()
	for m := range p.queue {
		if err := p.client.Publish(m.topic, m.payload, p.qos, m.retained); err != nil && p.logger != nil {
			p.logger.Warn("publishing lifecycle event failed", "topic", m.topic, "error", err)
		}
	}
}
