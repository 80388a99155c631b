package duplex

import (
	"testing"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/ring"
	"github.com/loqalabs/duplexaudio/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCallbackKeepsDrainingUntilRingEmpty(t *testing.T) {
	sd := newStreamData(backend.DirOut, "default")
	sd.rb = ring.New(8)
	sd.rb.Write([]float32{1, 2, 3})
	sd.setState(backend.StateDrain)

	cb := buildProcessCallback(sd, telemetry.NoopPublisher{})

	out := make([]float32, 2)
	got := cb(nil, out, len(out), backend.ProcessFlags{})
	assert.Equal(t, backend.StateContinue, got, "ring still has 1 sample queued, must keep draining")
	assert.False(t, sd.cSem.tryWait(), "cSem must not be posted while output remains")

	out2 := make([]float32, 2)
	got2 := cb(nil, out2, len(out2), backend.ProcessFlags{})
	assert.Equal(t, backend.StateContinue, got2, "Drain (Flush) must not stop the stream, just signal cSem")
	assert.True(t, sd.cSem.tryWait(), "cSem must be posted exactly once the ring goes empty")
	assert.False(t, sd.cSem.tryWait(), "cSem must not be posted a second time")
}

func TestProcessCallbackReturnsCompleteImmediatelyWhenRingAlreadyEmpty(t *testing.T) {
	sd := newStreamData(backend.DirOut, "default")
	sd.rb = ring.New(8)
	sd.setState(backend.StateComplete)

	cb := buildProcessCallback(sd, telemetry.NoopPublisher{})

	out := make([]float32, 2)
	got := cb(nil, out, len(out), backend.ProcessFlags{})
	assert.Equal(t, backend.StateComplete, got)
	assert.True(t, sd.cSem.tryWait())
}

func TestProcessCallbackStopsCapturingIntoRingOnceDraining(t *testing.T) {
	sd := newStreamData(backend.DirIn, "default")
	sd.rb = ring.New(8)
	sd.setState(backend.StateDrain)

	cb := buildProcessCallback(sd, telemetry.NoopPublisher{})

	in := []float32{1, 2, 3}
	cb(in, nil, len(in), backend.ProcessFlags{})
	require.Equal(t, 0, sd.rb.ReadSpace(), "capture must stop once Drain/Complete is requested")
}

func TestProcessCallbackStillCapturesWhileContinue(t *testing.T) {
	sd := newStreamData(backend.DirIn, "default")
	sd.rb = ring.New(8)
	sd.setState(backend.StateContinue)

	cb := buildProcessCallback(sd, telemetry.NoopPublisher{})

	in := []float32{1, 2, 3}
	cb(in, nil, len(in), backend.ProcessFlags{})
	assert.Equal(t, 3, sd.rb.ReadSpace())
}
