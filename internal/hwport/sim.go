// Package hwport provides a software model of the microphone privacy block.
package hwport

import (
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
)

// Config describes the strapping of a simulated privacy block.
type Config struct {
	Policy        privacy.Policy
	WaitTimeMs    uint64 // DMA data zeroing wait time
	RegisterValue uint32 // raw policy register; derived from Policy when zero
}

// Sim is a simulated privacy port. It is safe for concurrent use.
type Sim struct {
	cfg Config

	mu         sync.Mutex
	switchOn   bool // physical privacy switch engaged
	fwMode     bool
	fwDisabled bool // firmware-acknowledged disable status
	irqEnabled bool
	irqPending bool
	rearm      bool // switch moved while an interrupt was pending
	handler    privacy.IRQHandler
	readErr    error
	irqClears  int
	enableLog  []bool

	inflight sync.WaitGroup
}

// NewSim returns a simulated port with the privacy switch released.
func NewSim(cfg Config) *Sim {
	if cfg.RegisterValue == 0 {
		cfg.RegisterValue = uint32(cfg.Policy)
	}
	return &Sim{cfg: cfg}
}

// Policy implements privacy.Port.
func (s *Sim) Policy() privacy.Policy {
	return s.cfg.Policy
}

// PolicyRegister implements privacy.Port.
func (s *Sim) PolicyRegister() uint32 {
	return s.cfg.RegisterValue
}

// SetFirmwareManagedMode implements privacy.Port.
func (s *Sim) SetFirmwareManagedMode(enable bool) {
	s.mu.Lock()
	s.fwMode = enable
	s.mu.Unlock()
}

// EnableFirmwareManagedIRQ implements privacy.Port.
func (s *Sim) EnableFirmwareManagedIRQ(enable bool, handler privacy.IRQHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqEnabled = enable
	s.handler = handler
	s.enableLog = append(s.enableLog, enable)
}

// FirmwareManagedMicDisableStatus implements privacy.Port.
func (s *Sim) FirmwareManagedMicDisableStatus() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readErr; err != nil {
		s.readErr = nil
		return 0, err
	}
	if s.switchOn {
		return 1, nil
	}
	return 0, nil
}

// SetFirmwareMicDisableStatus implements privacy.Port.
func (s *Sim) SetFirmwareMicDisableStatus(disabled bool) {
	s.mu.Lock()
	s.fwDisabled = disabled
	s.mu.Unlock()
}

// DMADataZeroingWaitTime implements privacy.Port.
func (s *Sim) DMADataZeroingWaitTime() uint64 {
	return s.cfg.WaitTimeMs
}

// ClearFirmwareManagedIRQ implements privacy.Port. If the switch moved while
// the interrupt was pending, the interrupt is raised again.
func (s *Sim) ClearFirmwareManagedIRQ() {
	s.mu.Lock()
	s.irqClears++
	handler := s.dispatchableLocked()
	raise := s.rearm && handler != nil
	s.rearm = false
	s.irqPending = raise
	if raise {
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	if raise {
		slog.Debug("re-raising firmware managed interrupt")
		go s.run(handler)
	}
}

// SetSwitch moves the physical privacy switch. In firmware-managed mode with
// the interrupt enabled, a change raises the interrupt and runs the handler
// on its own goroutine. While an interrupt is pending the edge is latched and
// raised again once the handler clears it.
func (s *Sim) SetSwitch(disabled bool) {
	s.mu.Lock()
	changed := s.switchOn != disabled
	s.switchOn = disabled
	handler := s.dispatchableLocked()
	raise := changed && handler != nil && !s.irqPending
	if changed && handler != nil && s.irqPending {
		s.rearm = true
	}
	if raise {
		s.irqPending = true
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	slog.Info("privacy switch moved", "disabled", disabled, "interrupt", raise)

	if raise {
		go s.run(handler)
	}
}

// dispatchableLocked returns the interrupt handler if an edge would raise it.
func (s *Sim) dispatchableLocked() privacy.IRQHandler {
	if !s.fwMode || !s.irqEnabled {
		return nil
	}
	return s.handler
}

// run calls handler for an interrupt counted in inflight.
func (s *Sim) run(handler privacy.IRQHandler) {
	defer s.inflight.Done()
	handler(s)
}

// Switch reports whether the privacy switch is engaged.
func (s *Sim) Switch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchOn
}

// Capture models the hardware zeroing block on the DMA path: with
// hardware-managed policy and the switch engaged, captured data is zeroed
// before software sees it.
func (s *Sim) Capture(buf []byte) {
	if s.cfg.Policy != privacy.HardwareManaged {
		return
	}
	s.mu.Lock()
	on := s.switchOn
	s.mu.Unlock()
	if on {
		clear(buf)
	}
}

// FailNextStatusRead makes the next disable status read return err.
func (s *Sim) FailNextStatusRead(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// Wait blocks until all dispatched interrupt handlers have returned.
func (s *Sim) Wait() {
	s.inflight.Wait()
}

// Registers is a point-in-time copy of the simulated register state.
type Registers struct {
	Switch         bool
	FirmwareMode   bool
	FirmwareMuted  bool
	IRQEnabled     bool
	IRQPending     bool
	HandlerSet     bool
	IRQClears      int
	IRQEnableCalls []bool
}

// Registers returns the current register state.
func (s *Sim) Registers() Registers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Registers{
		Switch:         s.switchOn,
		FirmwareMode:   s.fwMode,
		FirmwareMuted:  s.fwDisabled,
		IRQEnabled:     s.irqEnabled,
		IRQPending:     s.irqPending,
		HandlerSet:     s.handler != nil,
		IRQClears:      s.irqClears,
		IRQEnableCalls: append([]bool(nil), s.enableLog...),
	}
}
