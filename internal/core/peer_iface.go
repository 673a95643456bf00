package core

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the reader surface of one inbound track, enough for
// level metering without holding the concrete pion track.
type RemoteTrack interface {
	SetReadDeadline(time.Time) error
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PeerTransport is the session's view of one peer link. A session holds
// at most one non-closed PeerTransport at any instant; creating a new
// one requires the prior one to reach Closed first.
type PeerTransport interface {
	// CreateOffer produces and installs a local offer. With restart set
	// the offer carries the ICE-restart flag.
	CreateOffer(restart bool) (webrtc.SessionDescription, error)
	// CreateAnswer produces and installs a local answer to the current
	// remote offer.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	HasLocalDescription() bool
	HasRemoteDescription() bool
	SignalingState() webrtc.SignalingState

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives. The
	// underlying transport fires it on the first inbound packet, which
	// may land after the connection state reports Connected.
	OnTrack(func(kind webrtc.RTPCodecType, track RemoteTrack))
	// OnConnectionStateChange sets a callback for transport state moves.
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// DetachCallbacks unhooks every registered callback. Must be called
	// before Close so a stale link cannot mutate a newer session.
	DetachCallbacks()

	// DetachSenders replaces every outbound sender's track with nil and
	// waits for completion.
	DetachSenders() error
	Close() error
	Closed() bool
}
