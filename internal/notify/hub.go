// Package notify is the notification transport for privacy settings
// broadcasts. A Hub fans each broadcast out to its subscribers: in-process
// consumers, the event log, webhooks and email.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
	"golang.org/x/mod/semver"
)

// ErrIncompatibleABI is returned when a subscriber expects another settings layout.
var ErrIncompatibleABI = errors.New("incompatible privacy settings ABI")

// Notification is a single broadcast as seen by a subscriber.
type Notification struct {
	ID        privacy.EventID
	Targets   uint32
	Payload   []byte
	Timestamp time.Time
}

// Settings decodes the payload of a mic privacy state change.
func (n Notification) Settings() (privacy.Settings, error) {
	var s privacy.Settings
	if n.ID != privacy.EventMicPrivacyStateChanged {
		return s, fmt.Errorf("notification 0x%x is not a privacy state change", uint32(n.ID))
	}
	err := s.UnmarshalBinary(n.Payload)
	return s, err
}

// Subscriber consumes notifications. HandleNotification runs on its own
// goroutine and must tolerate redundant notifications.
type Subscriber interface {
	Name() string
	HandleNotification(n Notification) error
}

type subscription struct {
	sub  Subscriber
	mask uint32
}

// Hub implements privacy.Notifier. It is safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64

	inflight sync.WaitGroup
}

// NewHub returns a Hub without subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscription)}
}

// Subscribe registers sub for notifications whose targets intersect mask.
// abi is the settings layout version the subscriber decodes; its major
// version must match privacy.SettingsABIVersion. The returned function
// removes the subscription.
func (h *Hub) Subscribe(sub Subscriber, mask uint32, abi string) (func(), error) {
	if !semver.IsValid(abi) {
		return nil, fmt.Errorf("%w: invalid version %q", ErrIncompatibleABI, abi)
	}
	if semver.Major(abi) != semver.Major(privacy.SettingsABIVersion) {
		return nil, fmt.Errorf("%w: %s wants %s, have %s", ErrIncompatibleABI, sub.Name(), abi, privacy.SettingsABIVersion)
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscription{sub: sub, mask: mask}
	h.mu.Unlock()

	slog.Info("notification subscriber added", "subscriber", sub.Name(), "mask", fmt.Sprintf("0x%08x", mask))

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}, nil
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify delivers the payload to every matching subscriber without waiting
// for any of them.
func (h *Hub) Notify(id privacy.EventID, targets uint32, payload []byte) {
	n := Notification{
		ID:        id,
		Targets:   targets,
		Payload:   slices.Clone(payload),
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.mask&targets == 0 {
			continue
		}
		h.inflight.Add(1)
		go h.deliver(s.sub, n)
	}
}

// deliver runs one subscriber with panic recovery.
func (h *Hub) deliver(sub Subscriber, n Notification) {
	defer h.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in notification subscriber", "subscriber", sub.Name(), "panic", r)
		}
	}()
	util.LogNotifyResult(func() error { return sub.HandleNotification(n) }, sub.Name())
}

// Wait blocks until all in-flight deliveries have returned.
func (h *Hub) Wait() {
	h.inflight.Wait()
}

// FuncSubscriber adapts a function receiving decoded settings.
type FuncSubscriber struct {
	Label string
	Fn    func(privacy.Settings)
}

// Name implements Subscriber.
func (f FuncSubscriber) Name() string {
	return f.Label
}

// HandleNotification implements Subscriber.
func (f FuncSubscriber) HandleNotification(n Notification) error {
	s, err := n.Settings()
	if err != nil {
		return err
	}
	f.Fn(s)
	return nil
}
