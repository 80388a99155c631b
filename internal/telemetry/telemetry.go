// Package telemetry publishes stream-health events (xruns, timeouts,
// drift-driven retunes) over nats-io/nats.go in an outbound role: instead
// of a channel fed by a subscription, events are published out.
package telemetry

import "time"

// EventKind classifies a published telemetry event.
type EventKind string

const (
	EventOverflow  EventKind = "overflow"  // input ring dropped frames (callback step 1)
	EventUnderrun  EventKind = "underrun"  // output ring under-supplied (callback step 4)
	EventTimeout   EventKind = "timeout"   // semaphore wait expired
	EventRetune    EventKind = "retune"    // ppm changed, ratio retuned mid-session
	EventWedged    EventKind = "wedged"    // close/flush forced through after c_sem timeout
)

// Event is one telemetry record.
type Event struct {
	Kind      EventKind
	Direction string
	Detail    string
	At        time.Time
}

// Publisher is the interface internal/duplex depends on. A nil Publisher is
// never passed around; callers use NoopPublisher when telemetry is
// disabled.
type Publisher interface {
	Publish(e Event)
}

// NoopPublisher discards every event — the default when no telemetry
// subject is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}
