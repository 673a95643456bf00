package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
)

// Meter derives a 0..1 audio level from the remote audio track and
// reports it at a fixed interval. The level comes from the RFC 6464
// audio-level header extension when the sender includes it; otherwise a
// payload-size heuristic stands in (voice frames grow with energy,
// comfort noise stays small).
type Meter struct {
	interval time.Duration
	report   func(level float64)
}

func NewMeter(interval time.Duration, report func(level float64)) *Meter {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Meter{interval: interval, report: report}
}

// Run consumes RTP from track until ctx is done or the track ends.
// Blocks; callers run it on its own goroutine.
func (m *Meter) Run(ctx context.Context, track core.RemoteTrack) {
	var (
		peak     float64
		lastSent = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := track.SetReadDeadline(time.Now().Add(m.interval)); err != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc.meter").Msg("read rtp")
			}
			return
		}

		if lvl, ok := packetLevel(pkt); ok && lvl > peak {
			peak = lvl
		}

		if time.Since(lastSent) >= m.interval {
			if m.report != nil {
				m.report(peak)
			}
			peak = 0
			lastSent = time.Now()
		}
	}
}

// packetLevel extracts a 0..1 level from one RTP packet.
func packetLevel(pkt *rtp.Packet) (float64, bool) {
	for _, id := range pkt.GetExtensionIDs() {
		payload := pkt.GetExtension(id)
		if len(payload) != 1 {
			continue
		}
		// RFC 6464: low 7 bits are -dBov, 0 loudest, 127 silence.
		dBov := float64(payload[0] & 0x7f)
		return 1 - dBov/127, true
	}
	if len(pkt.Payload) == 0 {
		return 0, false
	}
	// Opus DTX/CNG frames are a handful of bytes; active speech runs
	// much larger. Normalize against a typical voice frame size.
	lvl := float64(len(pkt.Payload)) / 120
	if lvl > 1 {
		lvl = 1
	}
	return lvl, true
}
