// Package privacy implements the microphone privacy state machine, the
// policy dispatch between hardware and firmware enforcement, and the
// copy-time hook that silences captured audio.
package privacy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

// Policy selects which component enforces microphone mute.
type Policy uint32

// Privacy policies reported by the privacy port.
const (
	HardwareManaged Policy = 0
	FirmwareManaged Policy = 1
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case HardwareManaged:
		return "hw_managed"
	case FirmwareManaged:
		return "fw_managed"
	default:
		return fmt.Sprintf("policy(%d)", uint32(p))
	}
}

// ParsePolicy converts a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "hw_managed":
		return HardwareManaged, nil
	case "fw_managed":
		return FirmwareManaged, nil
	default:
		return 0, fmt.Errorf("unknown privacy policy %q", s)
	}
}

// State is the enforcement state of a single capture stream.
type State uint32

// Stream privacy states.
const (
	Unmuted State = 0
	FadeIn  State = 1
	FadeOut State = 2
	Muted   State = 3
)

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s <= Muted
}

func (s State) String() string {
	switch s {
	case Unmuted:
		return "unmuted"
	case FadeIn:
		return "fade_in"
	case FadeOut:
		return "fade_out"
	case Muted:
		return "muted"
	default:
		return fmt.Sprintf("state(0x%x)", uint32(s))
	}
}

// Data is the privacy context embedded in a capture stream. The interrupt
// path writes it while the audio path reads it, so both fields are atomics.
type Data struct {
	state   atomic.Uint32
	zeroing atomic.Bool
}

// NewData returns stream privacy data in the Unmuted state.
func NewData() *Data {
	return &Data{}
}

// State returns the current enforcement state.
func (d *Data) State() State {
	return State(d.state.Load())
}

// SetState stores a new enforcement state.
func (d *Data) SetState(s State) {
	d.state.Store(uint32(s))
}

// DMADataZeroing reports whether samples already in DMA buffers must be scrubbed.
func (d *Data) DMADataZeroing() bool {
	return d.zeroing.Load()
}

// SetDMADataZeroing sets the DMA scrubbing flag.
func (d *Data) SetDMADataZeroing(v bool) {
	d.zeroing.Store(v)
}

// PrivacyMaskAll is the privacy mask for the current hardware generation:
// every channel and path is affected.
const PrivacyMaskAll uint32 = 0xFFFFFFFF

// SettingsSize is the encoded size of Settings in bytes.
const SettingsSize = 16

// SettingsABIVersion is the semantic version of the Settings wire layout.
// Bump the major version when the layout changes.
const SettingsABIVersion = "v1.0.0"

// EventID identifies a notification kind on the transport.
type EventID uint32

// EventMicPrivacyStateChanged is broadcast after every privacy state change.
const EventMicPrivacyStateChanged EventID = 0x4d505343

// TargetAllCores addresses every consumer on the transport.
const TargetAllCores uint32 = 0xFFFFFFFF

// Settings is a snapshot of the privacy configuration sent to consumers.
type Settings struct {
	Mode          Policy `json:"mode"`
	State         uint32 `json:"state"`
	PrivacyMask   uint32 `json:"privacy_mask"`
	MaxRampTimeMs uint32 `json:"max_ramp_time_ms"`
}

// Muted reports whether the snapshot carries a disabled microphone.
func (s Settings) Muted() bool {
	return s.State != 0
}

// MarshalBinary encodes the snapshot in its fixed 16-byte little-endian layout.
func (s Settings) MarshalBinary() ([]byte, error) {
	return s.bytes(), nil
}

func (s Settings) bytes() []byte {
	b := make([]byte, SettingsSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(s.Mode))
	binary.LittleEndian.PutUint32(b[4:], s.State)
	binary.LittleEndian.PutUint32(b[8:], s.PrivacyMask)
	binary.LittleEndian.PutUint32(b[12:], s.MaxRampTimeMs)
	return b
}

// UnmarshalBinary decodes a snapshot produced by MarshalBinary.
func (s *Settings) UnmarshalBinary(b []byte) error {
	if len(b) != SettingsSize {
		return fmt.Errorf("privacy settings payload is %d bytes, want %d", len(b), SettingsSize)
	}
	s.Mode = Policy(binary.LittleEndian.Uint32(b[0:]))
	s.State = binary.LittleEndian.Uint32(b[4:])
	s.PrivacyMask = binary.LittleEndian.Uint32(b[8:])
	s.MaxRampTimeMs = binary.LittleEndian.Uint32(b[12:])
	return nil
}

// rampTimeMs narrows the port wait time to the 32-bit wire field, saturating.
func rampTimeMs(wait uint64) uint32 {
	if wait > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(wait)
}
