package core

import "github.com/karyven/peerchat/internal/domain"

// Snapshot is the value the rendering collaborator consumes. It never
// carries mutable handles, only state it may display.
type Snapshot struct {
	State   domain.State       `json:"state"`
	Mode    domain.Mode        `json:"mode,omitempty"`
	Role    domain.Role        `json:"role,omitempty"`
	Partner domain.TransportID `json:"partner,omitempty"`
	RoomID  domain.RoomID      `json:"roomId,omitempty"`
	CallID  domain.CallID      `json:"callId,omitempty"`

	HasLocalStream  bool `json:"hasLocalStream"`
	HasRemoteStream bool `json:"hasRemoteStream"`

	MicOn       bool    `json:"micOn"`
	CamOn       bool    `json:"camOn"`
	RemoteCamOn bool    `json:"remoteCamOn"`
	MicLevel    float64 `json:"micLevel"`
	Loading     bool    `json:"loading"`
	InPiP       bool    `json:"inPiP"`

	// Fault is set only for user-visible outcomes: capture failure,
	// terminal transport failure, busy/declined/timeout.
	Fault string `json:"fault,omitempty"`
}

// StateSink receives snapshot notifications on every observable change.
type StateSink interface {
	Publish(Snapshot)
}

// NopSink discards snapshots. Useful when no renderer is attached.
type NopSink struct{}

func (NopSink) Publish(Snapshot) {}
