package privacy

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-micprivacy/internal/metrics"
)

// Manager owns the privacy port, the resolved policy and the capture streams
// that enforce it. It replaces process-wide state so each component receives
// the manager explicitly. It is safe for concurrent use.
type Manager struct {
	port     Port
	notifier Notifier
	metrics  *metrics.Registry

	// initMu serializes Init and Close.
	initMu      sync.Mutex
	initialized atomic.Bool
	policy      atomic.Uint32

	// irqMu serializes a status read with the port and stream updates
	// derived from it, so an older status never lands last.
	irqMu sync.Mutex

	streamsMu sync.RWMutex
	streams   map[*Data]struct{}

	lastMu  sync.RWMutex
	last    Settings
	hasLast bool
}

// NewManager returns a Manager for the given port. The notifier receives
// settings broadcasts and may be nil.
func NewManager(port Port, notifier Notifier) *Manager {
	return &Manager{
		port:     port,
		notifier: notifier,
		metrics:  metrics.Get(),
		streams:  make(map[*Data]struct{}),
	}
}

// Init resolves the privacy policy and configures the port for it. Under
// firmware-managed policy it enables the disable-status interrupt with
// HandleInterrupt as callback. Init must run exactly once, before any
// capture stream copies audio.
func (m *Manager) Init() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if m.port == nil {
		return ErrDeviceNotFound
	}

	slog.Info("initializing mic privacy manager")

	policy := m.port.Policy()
	switch policy {
	case FirmwareManaged:
		m.policy.Store(uint32(policy))
		slog.Info("mic privacy policy resolved", "policy", policy)
		m.port.SetFirmwareManagedMode(true)
		m.port.EnableFirmwareManagedIRQ(true, m.HandleInterrupt)
	case HardwareManaged:
		m.policy.Store(uint32(policy))
		slog.Info("mic privacy policy resolved", "policy", policy)
	default:
		return fmt.Errorf("unsupported mic privacy policy %d", uint32(policy))
	}

	m.metrics.Policy.Set(float64(policy))
	m.initialized.Store(true)
	return nil
}

// Close disables the firmware-managed interrupt if Init enabled it.
func (m *Manager) Close() {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if !m.initialized.Load() || m.Policy() != FirmwareManaged {
		return
	}
	m.port.EnableFirmwareManagedIRQ(false, nil)
	slog.Info("mic privacy interrupt disabled")
}

// Initialized reports whether Init has completed.
func (m *Manager) Initialized() bool {
	return m.initialized.Load()
}

// Policy returns the policy resolved by Init.
func (m *Manager) Policy() Policy {
	return Policy(m.policy.Load())
}

// PolicyRegister returns the raw privacy policy register of the port.
func (m *Manager) PolicyRegister() (uint32, error) {
	if m.port == nil {
		return 0, ErrDeviceNotFound
	}
	return m.port.PolicyRegister(), nil
}

// EnableFirmwareManagedIRQ enables or disables the disable-status interrupt.
func (m *Manager) EnableFirmwareManagedIRQ(enable bool) error {
	if !m.initialized.Load() {
		return ErrNotInitialized
	}
	slog.Info("setting firmware managed interrupt", "enabled", enable)
	if enable {
		m.port.EnableFirmwareManagedIRQ(true, m.HandleInterrupt)
	} else {
		m.port.EnableFirmwareManagedIRQ(false, nil)
	}
	return nil
}

// Attach registers stream data so interrupts update it directly.
func (m *Manager) Attach(d *Data) {
	m.streamsMu.Lock()
	m.streams[d] = struct{}{}
	m.streamsMu.Unlock()
}

// Detach removes stream data registered with Attach.
func (m *Manager) Detach(d *Data) {
	m.streamsMu.Lock()
	delete(m.streams, d)
	m.streamsMu.Unlock()
}

// attached returns the registered streams.
func (m *Manager) attached() []*Data {
	m.streamsMu.RLock()
	defer m.streamsMu.RUnlock()

	out := make([]*Data, 0, len(m.streams))
	for d := range m.streams {
		out = append(out, d)
	}
	return out
}

// LastSettings returns the most recently broadcast settings.
func (m *Manager) LastSettings() (Settings, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last, m.hasLast
}
