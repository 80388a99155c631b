package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// Connection is the dependency-injection seam for NATS: production code
// wires *nats.Conn, tests wire a fake that never touches a network.
type Connection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type connAdapter struct{ conn *nats.Conn }

func (a *connAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}
func (a *connAdapter) Close() { a.conn.Close() }

// update is the wire message published to the device's settings subject,
// e.g. by a tuning UI or an automatic clock-drift estimator.
type update struct {
	RxPPM           *int    `json:"rx_ppm,omitempty"`
	TxPPM           *int    `json:"tx_ppm,omitempty"`
	SampleConverter *string `json:"sample_converter,omitempty"`
}

// NATS implements Source with live ppm/converter updates pushed over a NATS
// subject, falling back to a caller-supplied base Snapshot for every field
// an update hasn't touched yet. Grounded on audio_subscriber.go's
// connect-with-retry and Start()/handleAudioMessage wiring, adapted from
// audio-file delivery to settings push.
type NATS struct {
	mu      sync.Mutex
	base    Snapshot
	rxPPM   atomic.Int64
	txPPM   atomic.Int64
	conv    atomic.Value // string

	conn    Connection
	subject string
}

// NewNATS connects to natsURL (retrying up to 5 times, 2s apart, mirroring
// audio_subscriber.go's NewAudioSubscriber) and subscribes to subject for
// live settings updates.
func NewNATS(natsURL, subject string, base Snapshot) (*NATS, error) {
	var nc *nats.Conn
	var err error
	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  settings: failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("settings: connect to NATS after 5 attempts: %w", err)
	}
	log.Printf("✅ settings: connected to NATS at %s", natsURL)

	n := NewNATSWithConnection(&connAdapter{conn: nc}, subject, base)
	if err := n.Start(); err != nil {
		nc.Close()
		return nil, err
	}
	return n, nil
}

// NewNATSWithConnection wires an already-connected (or fake) Connection,
// for tests — mirrors NewAudioSubscriberWithConnection.
func NewNATSWithConnection(conn Connection, subject string, base Snapshot) *NATS {
	n := &NATS{conn: conn, subject: subject, base: base}
	n.rxPPM.Store(int64(base.RxPPM))
	n.txPPM.Store(int64(base.TxPPM))
	n.conv.Store(base.SampleConverter)
	return n
}

func (n *NATS) Start() error {
	_, err := n.conn.Subscribe(n.subject, n.handle)
	if err != nil {
		return fmt.Errorf("settings: subscribe to %s: %w", n.subject, err)
	}
	log.Printf("🎛️  settings: subscribed to live-tuning subject %s", n.subject)
	return nil
}

func (n *NATS) handle(msg *nats.Msg) {
	var u update
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		log.Printf("❌ settings: failed to unmarshal settings update: %v", err)
		return
	}
	if u.RxPPM != nil {
		n.rxPPM.Store(int64(*u.RxPPM))
	}
	if u.TxPPM != nil {
		n.txPPM.Store(int64(*u.TxPPM))
	}
	if u.SampleConverter != nil {
		n.conv.Store(*u.SampleConverter)
	}
}

func (n *NATS) Snapshot() Snapshot {
	n.mu.Lock()
	s := n.base
	n.mu.Unlock()
	s.RxPPM = int(n.rxPPM.Load())
	s.TxPPM = int(n.txPPM.Load())
	if v, ok := n.conv.Load().(string); ok {
		s.SampleConverter = v
	}
	return s
}

func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
		log.Println("🔌 settings: NATS connection closed")
	}
}
