package backend

import "strings"

// HostAPIKind classifies the host audio API a device belongs to, using a
// portaudio.HostApis()/DeviceInfo walk to detect JACK (relevant to stream
// rebuild decisions) and other host APIs.
type HostAPIKind int

const (
	HostAPIUnknown HostAPIKind = iota
	HostAPIJACK
	HostAPIALSA
	HostAPICoreAudio
	HostAPIWASAPI
	HostAPIPulseAudio
)

// DeviceInfo is the subset of a backend device's properties this module
// needs, independent of any concrete backend's SDK types.
type DeviceInfo struct {
	Name              string
	HostAPI           HostAPIKind
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// IsFullDuplexDevice reports whether a device can serve as both an input
// and an output simultaneously, which decides whether a single stream can
// cover both directions instead of negotiating one device per direction.
func IsFullDuplexDevice(info DeviceInfo) bool {
	return info.MaxInputChannels > 0 && info.MaxOutputChannels > 0
}

// hostAPIKindFromName maps a PortAudio host API display name to a
// HostAPIKind. PortAudio's Go binding exposes host API names as strings
// (portaudio.HostApiInfo.Name), not a typed enum, so this is a best-effort
// classification the way voxworld-voxaudio matches "BlackHole" by
// substring.
func hostAPIKindFromName(name string) HostAPIKind {
	switch {
	case strings.Contains(name, "JACK"):
		return HostAPIJACK
	case strings.Contains(name, "ALSA"):
		return HostAPIALSA
	case strings.Contains(name, "Core Audio"):
		return HostAPICoreAudio
	case strings.Contains(name, "WASAPI"), strings.Contains(name, "DirectSound"), strings.Contains(name, "MME"):
		return HostAPIWASAPI
	case strings.Contains(name, "PulseAudio"), strings.Contains(name, "Pulse"):
		return HostAPIPulseAudio
	default:
		return HostAPIUnknown
	}
}
