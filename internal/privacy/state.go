package privacy

import (
	"fmt"
	"log/slog"
)

// SetGatewayState applies a disable status to a capture stream.
//
// Under firmware-managed policy a nonzero status mutes the stream and
// requests DMA scrubbing, zero unmutes it; either way the status is echoed
// to the port. Under hardware-managed policy the block mutes on its own, so
// only the unmute is reflected in software.
func (m *Manager) SetGatewayState(d *Data, status uint32) {
	switch m.Policy() {
	case HardwareManaged:
		if status == 0 {
			m.transition(d, Unmuted)
			d.SetDMADataZeroing(false)
		}
	case FirmwareManaged:
		if status != 0 {
			m.transition(d, Muted)
			d.SetDMADataZeroing(true)
			m.port.SetFirmwareMicDisableStatus(true)
		} else {
			m.transition(d, Unmuted)
			d.SetDMADataZeroing(false)
			m.port.SetFirmwareMicDisableStatus(false)
		}
	}
}

// UpdateGatewayState re-derives a stream's state from the port. It is
// serialized with HandleInterrupt. Under hardware-managed policy there is
// nothing to re-read.
func (m *Manager) UpdateGatewayState(d *Data) error {
	if !m.initialized.Load() {
		return ErrNotInitialized
	}

	switch m.Policy() {
	case HardwareManaged:
		slog.Debug("gateway state update skipped", "policy", HardwareManaged)
	case FirmwareManaged:
		m.irqMu.Lock()
		defer m.irqMu.Unlock()

		status, err := m.port.FirmwareManagedMicDisableStatus()
		if err != nil {
			slog.Error("failed to read mic disable status, assuming muted", "error", err)
			status = failClosedStatus
		}
		m.SetGatewayState(d, status)
	}
	return nil
}

// Process enforces the stream state on one copy cycle. Fades complete in a
// single step: FadeIn becomes Unmuted with the buffer intact, FadeOut becomes
// Muted with the buffer zeroed. copySamples is not used; the whole buffer is
// zeroed whenever silence is required.
func (m *Manager) Process(d *Data, buf Buffer, copySamples uint32) error {
	switch s := d.State(); s {
	case FadeIn:
		m.transition(d, Unmuted)
	case FadeOut:
		m.transition(d, Muted)
		m.zero(buf)
	case Muted:
		m.zero(buf)
	case Unmuted:
	default:
		slog.Error("mic privacy process invalid state", "state", s)
		m.metrics.InvalidStates.Inc()
		return fmt.Errorf("%w: 0x%x", ErrInvalidState, uint32(s))
	}
	return nil
}

func (m *Manager) zero(buf Buffer) {
	buf.Zero()
	m.metrics.BuffersZeroed.Inc()
}

// transition moves d to next, logging real changes.
func (m *Manager) transition(d *Data, next State) {
	prev := d.State()
	d.SetState(next)
	if prev != next {
		slog.Info("mic privacy state changed", "from", prev, "to", next)
		m.metrics.StateTransitions.WithLabelValues(next.String()).Inc()
	}
}
