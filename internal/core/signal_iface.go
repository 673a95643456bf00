package core

import "github.com/karyven/peerchat/internal/domain"

// SignalBus is the outbound half of the signaling channel.
// Owned by the adapter; the adapter must Close() it. The wire format
// belongs to the adapter, callers only hand it typed payloads.
type SignalBus interface {
	// Send marshals payload under the given event type. A nil payload
	// sends a bare control event (start/stop/next).
	Send(t domain.EventType, payload any) error
	Close()
}
