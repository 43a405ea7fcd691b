package privacy_test

import (
	"sync"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
)

// fakePort records every call made against the privacy port.
type fakePort struct {
	mu sync.Mutex

	policy   privacy.Policy
	register uint32
	wait     uint64
	status   uint32
	readErr  error

	fwMode      bool
	irqEnables  []bool
	handler     privacy.IRQHandler
	fwDisabled  []bool
	clears      int
	statusReads int
}

func (p *fakePort) Policy() privacy.Policy { return p.policy }

func (p *fakePort) PolicyRegister() uint32 { return p.register }

func (p *fakePort) SetFirmwareManagedMode(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fwMode = enable
}

func (p *fakePort) EnableFirmwareManagedIRQ(enable bool, handler privacy.IRQHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqEnables = append(p.irqEnables, enable)
	p.handler = handler
}

func (p *fakePort) FirmwareManagedMicDisableStatus() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusReads++
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.status, nil
}

func (p *fakePort) SetFirmwareMicDisableStatus(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fwDisabled = append(p.fwDisabled, disabled)
}

func (p *fakePort) DMADataZeroingWaitTime() uint64 { return p.wait }

func (p *fakePort) ClearFirmwareManagedIRQ() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
}

func (p *fakePort) setStatus(status uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// firmwareMuted returns the last disable status written to the port.
func (p *fakePort) firmwareMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fwDisabled) > 0 && p.fwDisabled[len(p.fwDisabled)-1]
}

// gatedPort holds the first status read, which returns zero, until release
// is closed.
type gatedPort struct {
	*fakePort
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPort() *gatedPort {
	return &gatedPort{
		fakePort: &fakePort{policy: privacy.FirmwareManaged},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (p *gatedPort) FirmwareManagedMicDisableStatus() (uint32, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
		return 0, nil
	}
	return p.fakePort.FirmwareManagedMicDisableStatus()
}

// raise fires the registered interrupt handler synchronously.
func (p *fakePort) raise(status uint32) {
	p.mu.Lock()
	p.status = status
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(p)
	}
}

// fakeNotifier captures broadcasts.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	id      privacy.EventID
	targets uint32
	payload []byte
}

func (n *fakeNotifier) Notify(id privacy.EventID, targets uint32, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{id: id, targets: targets, payload: payload})
}

func (n *fakeNotifier) last() (sentNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentNotification{}, false
	}
	return n.sent[len(n.sent)-1], true
}

// byteBuffer is a Buffer over a plain byte slice.
type byteBuffer []byte

func (b byteBuffer) Zero() { clear(b) }

func filled(n int) byteBuffer {
	b := make(byteBuffer, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}
