// Package domain contains entity without logic, just meta-data
package domain

type (
	// TransportID is the signaling-channel address of an endpoint.
	TransportID string
	// RoomID is an opaque room identifier assigned by the matchmaker.
	RoomID string
	// CallID identifies a direct-mode call from the moment of invitation,
	// independent of room assignment.
	CallID string
)

// Mode selects how a session finds its partner.
type Mode string

const (
	// ModeRandom sessions are matched anonymously by the server.
	ModeRandom Mode = "random"
	// ModeDirect sessions target a known peer identity.
	ModeDirect Mode = "direct"
)

// Role is resolved once per session and immutable thereafter.
type Role string

const (
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
)

// State is the call session lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateSearching   State = "searching"
	StateMatched     State = "matched"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	// StateInactive is terminal. A new call always constructs a new session.
	StateInactive State = "inactive"
)

// Past reports whether s is strictly beyond other in the
// Idle → Searching → Matched → Negotiating → Connected order.
func (s State) Past(other State) bool {
	return s.ord() > other.ord()
}

func (s State) ord() int {
	switch s {
	case StateIdle:
		return 0
	case StateSearching:
		return 1
	case StateMatched:
		return 2
	case StateNegotiating:
		return 3
	case StateConnected:
		return 4
	case StateInactive:
		return 5
	}
	return -1
}

// Facing is the preferred camera direction for capture.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Presence status values announced to the matchmaker.
const (
	PresenceAvailable = "available"
	PresenceBusy      = "busy"
)
