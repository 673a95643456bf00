package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/karyven/peerchat/internal/domain"
)

// MediaSource owns the single local capture. It is created on first
// need, reused across consecutive sessions while valid, and released
// only on explicit stop, never because the peer changed.
type MediaSource interface {
	// Acquire obtains camera+microphone capture, walking the fallback
	// constraint chain. Idempotent while the capture stays valid.
	Acquire(ctx context.Context, facing domain.Facing) error
	// Release disables every track, stops it, and waits a short grace
	// period before declaring the device free.
	Release(ctx context.Context) error
	Valid() bool

	// Tracks returns the capture's tracks for attachment to a peer link.
	Tracks() []webrtc.TrackLocal

	// Enabled-state is layered above capture: toggling never touches
	// the device.
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
}
