package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the dependency-injection seam for NATS publishing, mirroring
// internal/settings.Connection's adapter split.
type Conn interface {
	Publish(subject string, data []byte) error
}

type connAdapter struct{ conn *nats.Conn }

func (a *connAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *connAdapter) Close() { a.conn.Close() }

// wireEvent is the JSON payload published for each Event.
type wireEvent struct {
	Kind      string    `json:"kind"`
	Direction string    `json:"direction"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// NATSPublisher publishes Events to a fixed subject, best-effort: publish
// errors are logged, never returned, so the realtime/data path never
// blocks on telemetry.
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher connects to natsURL with the same retry policy as
// internal/settings.NewNATS.
func NewNATSPublisher(natsURL, subject string) (*NATSPublisher, error) {
	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  telemetry: failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect to NATS after 5 attempts: %w", err)
	}
	return NewNATSPublisherWithConnection(&connAdapter{conn: nc}, subject), nil
}

// NewNATSPublisherWithConnection wires a fake Conn for tests.
func NewNATSPublisherWithConnection(conn Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Close releases the underlying NATS connection, if this publisher owns
// one (NewNATSPublisherWithConnection callers manage their own lifetime).
func (p *NATSPublisher) Close() {
	if closer, ok := p.conn.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (p *NATSPublisher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	data, err := json.Marshal(wireEvent{
		Kind:      string(e.Kind),
		Direction: e.Direction,
		Detail:    e.Detail,
		At:        e.At,
	})
	if err != nil {
		log.Printf("❌ telemetry: failed to marshal event: %v", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		log.Printf("⚠️  telemetry: publish failed: %v", err)
	}
}
