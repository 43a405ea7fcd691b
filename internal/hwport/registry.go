package hwport

import (
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
)

// DefaultDevice is the name the daemon binds the privacy port under.
const DefaultDevice = "mic_privacy"

var (
	devicesMu sync.RWMutex
	devices   = map[string]*Sim{}
)

// Register makes a port available under name, replacing any previous one.
func Register(name string, port *Sim) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	devices[name] = port
}

// Unregister removes the port bound to name.
func Unregister(name string) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	delete(devices, name)
}

// Lookup returns the port bound to name.
func Lookup(name string) (*Sim, error) {
	devicesMu.RLock()
	defer devicesMu.RUnlock()

	port, ok := devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", privacy.ErrDeviceNotFound, name)
	}
	return port, nil
}
