package privacy

import "errors"

var (
	// ErrDeviceNotFound is returned when no privacy port is available at init.
	ErrDeviceNotFound = errors.New("mic privacy device not found")
	// ErrInvalidState is returned when a stream holds an undefined privacy state.
	ErrInvalidState = errors.New("invalid mic privacy state")
	// ErrNotInitialized is returned when the manager is used before Init.
	ErrNotInitialized = errors.New("mic privacy manager not initialized")
	// ErrAlreadyInitialized is returned when Init runs more than once.
	ErrAlreadyInitialized = errors.New("mic privacy manager already initialized")
)

// IRQHandler is called on the port's interrupt context. dev is the port that
// raised the interrupt.
type IRQHandler func(dev Port)

// Port is the hardware privacy block.
type Port interface {
	// Policy returns the enforcement policy strapped into the hardware.
	Policy() Policy
	// PolicyRegister returns the raw privacy policy register.
	PolicyRegister() uint32
	// SetFirmwareManagedMode switches the block into firmware-managed mode.
	SetFirmwareManagedMode(enable bool)
	// EnableFirmwareManagedIRQ enables or disables the disable-status
	// interrupt. The handler is nil when disabling.
	EnableFirmwareManagedIRQ(enable bool, handler IRQHandler)
	// FirmwareManagedMicDisableStatus reads the disable status
	// (0 = enabled, nonzero = disabled).
	FirmwareManagedMicDisableStatus() (uint32, error)
	// SetFirmwareMicDisableStatus records the firmware-acknowledged status.
	SetFirmwareMicDisableStatus(disabled bool)
	// DMADataZeroingWaitTime returns how long, in milliseconds, the block
	// needs to zero data already buffered by DMA.
	DMADataZeroingWaitTime() uint64
	// ClearFirmwareManagedIRQ acknowledges a pending interrupt.
	ClearFirmwareManagedIRQ()
}

// Notifier delivers a payload to the consumers selected by targets.
// Delivery is fire-and-forget.
type Notifier interface {
	Notify(id EventID, targets uint32, payload []byte)
}

// Buffer is the audio buffer the enforcer silences.
type Buffer interface {
	// Zero clears the buffer's whole current extent.
	Zero()
}
