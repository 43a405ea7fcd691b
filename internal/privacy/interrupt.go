package privacy

import "log/slog"

// failClosedStatus is the disable status assumed when the port cannot be read.
const failClosedStatus uint32 = 1

// HandleInterrupt services a firmware-managed disable-status interrupt and
// always clears the interrupt before returning. Interrupts are serviced one
// at a time.
func (m *Manager) HandleInterrupt(dev Port) {
	if dev == nil {
		dev = m.port
	}
	if dev == nil {
		slog.Error("mic privacy interrupt without a port")
		return
	}
	defer dev.ClearFirmwareManagedIRQ()

	m.irqMu.Lock()
	defer m.irqMu.Unlock()

	m.metrics.Interrupts.Inc()

	status, err := dev.FirmwareManagedMicDisableStatus()
	if err != nil {
		slog.Error("failed to read mic disable status, assuming muted", "error", err)
		m.metrics.InterruptReadFailures.Inc()
		status = failClosedStatus
	}
	slog.Info("handling firmware managed interrupt", "status", status)

	m.Propagate(m.BuildSettings(status))

	dev.SetFirmwareMicDisableStatus(status != 0)

	for _, d := range m.attached() {
		m.SetGatewayState(d, status)
	}
}

// BuildSettings assembles the snapshot for the given disable status. Without
// a port the ramp time is zero.
func (m *Manager) BuildSettings(status uint32) Settings {
	s := Settings{
		Mode:        m.Policy(),
		State:       status,
		PrivacyMask: PrivacyMaskAll,
	}
	if m.port != nil {
		s.MaxRampTimeMs = rampTimeMs(m.port.DMADataZeroingWaitTime())
	}
	slog.Debug("built mic privacy settings",
		"mode", s.Mode, "status", s.State,
		"privacy_mask", s.PrivacyMask, "max_ramp_time_ms", s.MaxRampTimeMs)
	return s
}

// Propagate broadcasts the snapshot to all consumers without waiting for
// acknowledgement.
func (m *Manager) Propagate(s Settings) {
	m.lastMu.Lock()
	m.last = s
	m.hasLast = true
	m.lastMu.Unlock()

	if s.Muted() {
		m.metrics.MicDisabled.Set(1)
	} else {
		m.metrics.MicDisabled.Set(0)
	}

	if m.notifier == nil {
		slog.Debug("no notifier configured, dropping privacy settings")
		return
	}

	m.notifier.Notify(EventMicPrivacyStateChanged, TargetAllCores, s.bytes())
	m.metrics.Broadcasts.Inc()
}
