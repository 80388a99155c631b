package backend

import "errors"

// Sentinel errors backends wrap into, letting callers (internal/duplex)
// classify failures with errors.Is against a shared error-kind taxonomy
// without this package depending on the duplex package's error type.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrUnsupportedFormat = errors.New("unsupported sample rate/format")
	ErrBackend           = errors.New("backend error")
	ErrInvalidState      = errors.New("invalid stream state")
)
