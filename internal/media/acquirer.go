// Package media owns the local camera+microphone capture.
package media

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/domain"
)

// ErrCaptureFailed means every acquisition attempt failed. Fatal for the
// current call attempt; the user must retry start.
var ErrCaptureFailed = errors.New("media capture failed")

// Options tunes the acquirer.
type Options struct {
	// ReleaseGrace is how long Release waits after stopping tracks
	// before declaring the device free. Recreating a capture
	// immediately after release on some platforms silently reuses a
	// half-released device.
	ReleaseGrace time.Duration
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

func (o *Options) defaults() {
	if o.ReleaseGrace <= 0 {
		o.ReleaseGrace = 300 * time.Millisecond
	}
	if o.VideoBitRate <= 0 {
		o.VideoBitRate = 1_500_000
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = 640
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 480
	}
}

// Acquirer implements core.MediaSource on pion/mediadevices. It holds
// one capture at a time, reused across consecutive sessions.
type Acquirer struct {
	api      *webrtc.API
	selector *mediadevices.CodecSelector
	opts     Options

	mu      sync.Mutex
	stream  mediadevices.MediaStream
	stale   bool
	audioOn bool
	videoOn bool
}

// NewAcquirer builds the VP8+Opus codec selector and the webrtc API all
// peer links are created from. The API must come from here so the media
// engine knows the capture codecs.
func NewAcquirer(opts Options) (*Acquirer, error) {
	opts.defaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts: brief relay hiccups should not kill the
	// transport before the restart path gets a chance.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &Acquirer{
		api:      api,
		selector: selector,
		opts:     opts,
		audioOn:  true,
		videoOn:  true,
	}, nil
}

// API returns the webrtc API peer links must be built from.
func (a *Acquirer) API() *webrtc.API { return a.api }

// Acquire walks the constraint fallback chain until an attempt yields a
// stream with a live video track. Reuses the existing capture while it
// remains valid.
func (a *Acquirer) Acquire(ctx context.Context, facing domain.Facing) error {
	a.mu.Lock()
	if a.stream != nil && !a.stale {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	attempts := []struct {
		label      string
		constraint mediadevices.MediaStreamConstraints
	}{
		{"generic", a.genericConstraints()},
		{"constrained", a.constrainedConstraints()},
		{"device-id", a.deviceIDConstraints(facing)},
	}

	for _, att := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		stream, err := mediadevices.GetUserMedia(att.constraint)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", att.label).Msg("GetUserMedia failed")
			continue
		}
		if !hasLiveVideo(stream) {
			log.Warn().Str("module", "media").Str("attempt", att.label).Msg("no live video track, dropping attempt")
			for _, t := range stream.GetTracks() {
				t.Close()
			}
			continue
		}
		a.adopt(stream)
		log.Info().Str("module", "media").Str("attempt", att.label).Int("tracks", len(stream.GetTracks())).Msg("capture acquired")
		return nil
	}
	return ErrCaptureFailed
}

func (a *Acquirer) adopt(stream mediadevices.MediaStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stream = stream
	a.stale = false
	// Tracks always start enabled; presentation state layers on top.
	a.audioOn = true
	a.videoOn = true
	for _, t := range stream.GetTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("local track ended")
			}
			a.mu.Lock()
			a.stale = true
			a.mu.Unlock()
		})
	}
}

func (a *Acquirer) genericConstraints() mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Codec: a.selector,
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
}

// constrainedConstraints excludes MJPEG frame formats (some cameras
// expose an MJPEG node with malformed frames that poisons the encoder)
// and caps resolution.
func (a *Acquirer) constrainedConstraints() mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Codec: a.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: a.opts.MaxWidth}
			c.Height = prop.IntRanged{Max: a.opts.MaxHeight}
		},
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
}

// deviceIDConstraints enumerates video inputs and picks the one whose
// label matches the requested facing, falling back to the first input.
func (a *Acquirer) deviceIDConstraints(facing domain.Facing) mediadevices.MediaStreamConstraints {
	id := pickVideoDevice(mediadevices.EnumerateDevices(), facing)
	return mediadevices.MediaStreamConstraints{
		Codec: a.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.String(id)
			}
		},
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
}

func pickVideoDevice(devices []mediadevices.MediaDeviceInfo, facing domain.Facing) string {
	var fallback string
	for _, d := range devices {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		if fallback == "" {
			fallback = d.DeviceID
		}
		if labelMatchesFacing(d.Label, facing) {
			return d.DeviceID
		}
	}
	return fallback
}

// labelMatchesFacing is a heuristic: device labels rarely state facing
// directly, so match the usual vendor vocabulary.
func labelMatchesFacing(label string, facing domain.Facing) bool {
	l := strings.ToLower(label)
	switch facing {
	case domain.FacingEnvironment:
		for _, kw := range []string{"back", "rear", "environment", "world"} {
			if strings.Contains(l, kw) {
				return true
			}
		}
	default:
		for _, kw := range []string{"front", "user", "face", "integrated", "internal"} {
			if strings.Contains(l, kw) {
				return true
			}
		}
	}
	return false
}

func hasLiveVideo(stream mediadevices.MediaStream) bool {
	for _, t := range stream.GetTracks() {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// Release disables every track before stopping it (stop-before-disable
// can leave platform indicators lit), stops them, then waits the grace
// period before declaring the device free.
func (a *Acquirer) Release(ctx context.Context) error {
	a.mu.Lock()
	stream := a.stream
	a.stream = nil
	a.stale = false
	a.audioOn = false
	a.videoOn = false
	a.mu.Unlock()

	if stream == nil {
		return nil
	}
	for _, t := range stream.GetTracks() {
		t.Close()
	}
	select {
	case <-time.After(a.opts.ReleaseGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Info().Str("module", "media").Msg("capture released")
	return nil
}

func (a *Acquirer) Valid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil && !a.stale
}

func (a *Acquirer) Tracks() []webrtc.TrackLocal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil {
		return nil
	}
	tracks := a.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

// Enabled-state is presentation only: toggling never re-acquires or
// releases the device.

func (a *Acquirer) SetAudioEnabled(on bool) {
	a.mu.Lock()
	a.audioOn = on
	a.mu.Unlock()
}

func (a *Acquirer) SetVideoEnabled(on bool) {
	a.mu.Lock()
	a.videoOn = on
	a.mu.Unlock()
}

func (a *Acquirer) AudioEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioOn
}

func (a *Acquirer) VideoEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.videoOn
}
