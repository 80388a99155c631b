package duplex

import (
	"errors"
	"fmt"
	"testing"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/stretchr/testify/assert"
)

func TestKindStringCoversEveryValue(t *testing.T) {
	cases := map[Kind]string{
		DeviceUnavailable:  "DeviceUnavailable",
		UnsupportedFormat:  "UnsupportedFormat",
		BackendError:       "BackendError",
		Timeout:            "Timeout",
		AllocationFailure:  "AllocationFailure",
		InvalidState:       "InvalidState",
		Kind(999):          "Unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestSoundErrorFormatsWithAndWithoutCause(t *testing.T) {
	withCause := newSoundError(BackendError, "open in", errors.New("boom"))
	assert.Contains(t, withCause.Error(), "BackendError")
	assert.Contains(t, withCause.Error(), "open in")
	assert.Contains(t, withCause.Error(), "boom")

	withoutCause := newSoundError(InvalidState, "already closed", nil)
	assert.NotContains(t, withoutCause.Error(), "<nil>")
}

func TestSoundErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	se := newSoundError(BackendError, "msg", cause)
	assert.Same(t, cause, errors.Unwrap(se))
}

func TestClassifyBackendErrMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("wrap: %w", backend.ErrDeviceUnavailable), DeviceUnavailable},
		{fmt.Errorf("wrap: %w", backend.ErrUnsupportedFormat), UnsupportedFormat},
		{fmt.Errorf("wrap: %w", backend.ErrInvalidState), InvalidState},
		{errors.New("unrelated failure"), BackendError},
	}
	for _, c := range cases {
		se := classifyBackendErr("op", c.err)
		assert.Equal(t, c.kind, se.Kind)
		assert.Same(t, c.err, se.Cause)
	}
}
