package session

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
	"github.com/karyven/peerchat/internal/rtc"
)

// sendOffer creates and sends an offer when the preconditions hold:
// stable signaling state, no local description, session still active
// and bound to the same partner. Any precondition failure is a benign
// race (role flip, session advanced) and aborts silently.
func (s *Session) sendOffer(g guard, link core.PeerTransport, restart bool) {
	if !s.valid(g) || link.Closed() {
		return
	}
	if link.HasRemoteDescription() && !restart {
		// The partner's offer arrived first. Both sides may race to be
		// caller in direct-mode edge cases; answering covers it.
		log.Debug().Str("module", "session").Str("partner", string(g.partner)).Msg("offer skipped, remote description present")
		return
	}
	if !restart && (link.HasLocalDescription() || link.SignalingState() != webrtc.SignalingStateStable) {
		log.Debug().Str("module", "session").
			Str("signaling", link.SignalingState().String()).
			Msg("offer preconditions not met")
		return
	}

	offer, err := link.CreateOffer(restart)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("create offer")
		s.clearRestartFlag(restart)
		return
	}
	// Re-validate after the suspension: an abort or partner change
	// while the offer was being created makes it stale.
	if !s.valid(g) {
		s.clearRestartFlag(restart)
		return
	}
	_ = s.bus.Send(domain.EventOffer, domain.Description{
		From:   s.cfg.SelfID,
		Target: g.partner,
		SDP:    domain.SessionDesc{Kind: offer.Type.String(), SDP: offer.SDP},
	})
	s.clearRestartFlag(restart)
}

func (s *Session) clearRestartFlag(restart bool) {
	if !restart {
		return
	}
	s.mu.Lock()
	s.restartBusy = false
	s.mu.Unlock()
}

// applyOffer sets the remote offer, drains queued candidates for the
// sender, and answers when the link holds a remote offer.
func (s *Session) applyOffer(g guard, link core.PeerTransport, d domain.Description) {
	s.negMu.Lock()
	if err := link.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.SDP.Kind),
		SDP:  d.SDP.SDP,
	}); err != nil {
		s.negMu.Unlock()
		log.Warn().Err(err).Str("module", "session").Msg("set remote offer")
		return
	}
	s.drainCandidates(d.From, link)
	s.negMu.Unlock()

	if link.SignalingState() != webrtc.SignalingStateHaveRemoteOffer {
		return
	}
	answer, err := link.CreateAnswer()
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("create answer")
		return
	}
	if !s.valid(g) {
		return
	}
	_ = s.bus.Send(domain.EventAnswer, domain.Description{
		From:   s.cfg.SelfID,
		Target: d.From,
		SDP:    domain.SessionDesc{Kind: answer.Type.String(), SDP: answer.SDP},
	})
}

// handleRemoteTrack records an inbound track. The transport fires this
// on the first RTP packet, which usually lands after the state already
// reports Connected, so the meter starts from here too.
func (s *Session) handleRemoteTrack(g guard, kind webrtc.RTPCodecType, track core.RemoteTrack) {
	s.mu.Lock()
	if !s.validLocked(g) {
		s.mu.Unlock()
		return
	}
	s.hasRemote = true
	var meterCtx context.Context
	if kind == webrtc.RTPCodecTypeAudio {
		s.remoteAudio = track
		if s.state == domain.StateConnected && s.meterCancel == nil {
			meterCtx, s.meterCancel = context.WithCancel(context.Background())
		}
	}
	s.mu.Unlock()
	s.publish()
	if meterCtx != nil {
		s.startMeter(meterCtx, track)
	}
}

// onConnectionState reacts to transport state moves of the current
// link.
func (s *Session) onConnectionState(g guard, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if !s.validLocked(g) {
			s.mu.Unlock()
			return
		}
		s.state = domain.StateConnected
		s.loading = false
		s.restartCount = 0
		s.restartBusy = false
		audio := s.remoteAudio
		var meterCtx context.Context
		if audio != nil && s.meterCancel == nil {
			meterCtx, s.meterCancel = context.WithCancel(context.Background())
		}
		s.mu.Unlock()
		s.publish()
		if meterCtx != nil {
			s.startMeter(meterCtx, audio)
		}

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		s.recoverTransport(g)

	case webrtc.PeerConnectionStateClosed:
		// Teardown paths close links deliberately; nothing to do.
	}
}

// recoverTransport runs the gated ICE-restart path and falls back to a
// user-visible outcome once restarts are exhausted.
func (s *Session) recoverTransport(g guard) {
	s.mu.Lock()
	if !s.validLocked(g) {
		s.mu.Unlock()
		return
	}
	link := s.link
	mode := s.cfg.Mode

	switch {
	case s.restartCount >= s.cfg.MaxRestarts:
		s.mu.Unlock()
		log.Warn().Str("module", "session").Str("partner", string(g.partner)).Msg("transport failed, restarts exhausted")
		if mode == domain.ModeRandom {
			s.continueSearching()
		} else {
			s.Abort(context.Background(), FaultConnectionLost)
		}
		return
	case s.restartBusy:
		s.mu.Unlock()
		return
	case time.Since(s.lastRestart) < s.cfg.RestartCooldown:
		s.mu.Unlock()
		log.Debug().Str("module", "session").Msg("ice restart inside cooldown")
		return
	case !s.foreground || s.inPiP:
		s.mu.Unlock()
		log.Debug().Str("module", "session").Msg("ice restart deferred, app not foregrounded")
		return
	}
	s.restartBusy = true
	s.restartCount++
	s.lastRestart = time.Now()
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("partner", string(g.partner)).Msg("ice restart")
	go s.sendOffer(g, link, true)
}

func (s *Session) startMeter(ctx context.Context, track core.RemoteTrack) {
	m := rtc.NewMeter(s.cfg.MeterInterval, func(level float64) {
		s.mu.Lock()
		s.micLevel = level
		s.mu.Unlock()
		s.publish()
	})
	go m.Run(ctx, track)
}
