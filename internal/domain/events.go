package domain

// EventType tags every envelope on the signaling channel.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventNext  EventType = "next"

	EventMatchFound EventType = "match_found"

	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"

	EventPeerStopped EventType = "peer:stopped"
	EventPeerLeft    EventType = "peer:left"

	EventCallIncoming EventType = "call:incoming"
	EventCallAccepted EventType = "call:accepted"
	EventCallBusy     EventType = "call:busy"
	EventCallDeclined EventType = "call:declined"
	EventCallTimeout  EventType = "call:timeout"
	EventCallEnded    EventType = "call:ended"

	EventCamToggle EventType = "cam-toggle"
	EventPiPState  EventType = "pip:state"

	EventRoomJoinAck EventType = "room:join:ack"
	EventRoomLeave   EventType = "room:leave"

	EventPresence EventType = "presence:update"
)

// SessionDesc mirrors an SDP description without pulling the webrtc
// package into domain. Kind is "offer" or "answer".
type SessionDesc struct {
	Kind string `json:"type"`
	SDP  string `json:"sdp"`
}

// MatchFound is delivered by the matchmaker at most once per pairing.
type MatchFound struct {
	PartnerID TransportID `json:"partnerId"`
	Partner   *User       `json:"partner,omitempty"`
	RoomID    RoomID      `json:"roomId,omitempty"`
}

// Description carries an offer or answer between endpoints.
type Description struct {
	From   TransportID `json:"from,omitempty"`
	Target TransportID `json:"target,omitempty"`
	SDP    SessionDesc `json:"sdp"`
	Source *User       `json:"source,omitempty"`
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	From          TransportID `json:"from,omitempty"`
	Target        TransportID `json:"target,omitempty"`
	Candidate     string      `json:"candidate"`
	SDPMid        *string     `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16     `json:"sdpMLineIndex,omitempty"`
}

// PeerGone reports a partner that stopped or left.
type PeerGone struct {
	PeerID TransportID `json:"peerId"`
	Reason string      `json:"reason,omitempty"`
}

// CallIncoming is a direct-mode invitation.
type CallIncoming struct {
	CallID   CallID      `json:"callId"`
	From     TransportID `json:"fromId"`
	FromNick string      `json:"fromNick,omitempty"`
}

// CallAccepted confirms a direct invitation and assigns the room.
type CallAccepted struct {
	CallID     CallID      `json:"callId"`
	RoomID     RoomID      `json:"roomId"`
	FromUserID UserID      `json:"fromUserId,omitempty"`
	From       TransportID `json:"fromId,omitempty"`
}

// CallControl covers busy/declined/timeout/ended notifications.
type CallControl struct {
	CallID CallID      `json:"callId,omitempty"`
	From   TransportID `json:"from,omitempty"`
}

// CamToggle relays camera-enabled state between partners.
type CamToggle struct {
	Enabled bool        `json:"enabled"`
	From    TransportID `json:"fromId,omitempty"`
	Target  TransportID `json:"targetId,omitempty"`
	RoomID  RoomID      `json:"roomId,omitempty"`
}

// PiPState announces picture-in-picture transitions to the partner.
type PiPState struct {
	InPiP  bool        `json:"inPiP"`
	From   TransportID `json:"fromId,omitempty"`
	RoomID RoomID      `json:"roomId,omitempty"`
}

// RoomRef names a room for join acks and leave notices.
type RoomRef struct {
	RoomID RoomID `json:"roomId"`
}

// Presence tells the matchmaker whether this endpoint may be paired.
type Presence struct {
	Status string `json:"status"`
}
