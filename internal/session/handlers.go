package session

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
)

// HandleMatchFound binds the session to a partner and kicks off
// negotiation. Duplicate deliveries for the current partner and matches
// already being processed are ignored; reassignment to a different
// partner past Matched is rejected.
func (s *Session) HandleMatchFound(m domain.MatchFound) {
	s.mu.Lock()
	if s.state == domain.StateInactive || s.state == domain.StateIdle {
		s.mu.Unlock()
		return
	}
	if m.PartnerID == "" || m.PartnerID == s.cfg.SelfID {
		s.mu.Unlock()
		return
	}
	if s.partnerID == m.PartnerID && s.state.Past(domain.StateSearching) {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("partner", string(m.PartnerID)).Msg("match redelivery ignored")
		return
	}
	if _, busy := s.inflight[m.PartnerID]; busy {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("partner", string(m.PartnerID)).Msg("match already in flight")
		return
	}
	if s.partnerID != "" && s.partnerID != m.PartnerID && s.state.Past(domain.StateMatched) {
		s.mu.Unlock()
		log.Warn().Str("module", "session").
			Str("bound", string(s.partnerID)).
			Str("offered", string(m.PartnerID)).
			Msg("partner reassignment rejected")
		return
	}

	s.inflight[m.PartnerID] = struct{}{}
	s.partnerID = m.PartnerID
	s.partner = m.Partner
	if m.RoomID != "" {
		s.roomID = m.RoomID
	}
	s.role = ResolveRole(s.cfg.Mode, s.cfg.SelfID, m.PartnerID, s.cfg.Initiator)
	s.state = domain.StateMatched
	roomID := s.roomID
	g := s.guardLocked()
	s.mu.Unlock()

	log.Info().Str("module", "session").
		Str("partner", string(m.PartnerID)).
		Str("role", string(s.Role())).
		Msg("matched")
	s.publish()
	if roomID != "" {
		_ = s.bus.Send(domain.EventRoomJoinAck, domain.RoomRef{RoomID: roomID})
	}
	go s.establish(g)
}

// establish runs the multi-step path from Matched to an offer or a
// waiting receiver link: acquire media, build the link, negotiate. Each
// step re-validates the guard after its suspension point.
func (s *Session) establish(g guard) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, g.partner)
		s.mu.Unlock()
	}()

	if !s.media.Valid() {
		if err := s.media.Acquire(context.Background(), s.cfg.Facing); err != nil {
			if s.valid(g) {
				log.Error().Err(err).Str("module", "session").Msg("capture failed during match")
				s.failCapture()
			}
			return
		}
	}
	if !s.valid(g) {
		return
	}

	s.mu.Lock()
	if !s.validLocked(g) {
		s.mu.Unlock()
		return
	}
	link := s.link
	if link == nil || link.Closed() {
		var err error
		link, err = s.newLink(g.partner, s.media.Tracks())
		if err != nil {
			s.mu.Unlock()
			log.Error().Err(err).Str("module", "session").Msg("peer link create")
			s.Abort(context.Background(), FaultConnectionLost)
			return
		}
		s.link = link
		s.wireLinkLocked(g, link)
	}
	s.state = domain.StateNegotiating
	role := s.role
	replay := s.pendingOffer
	s.pendingOffer = nil
	s.mu.Unlock()
	s.publish()

	if replay != nil {
		s.applyOffer(g, link, *replay)
		return
	}
	if role == domain.RoleCaller {
		s.sendOffer(g, link, false)
	}
	// Receiver: the link is up, descriptions arrive via HandleOffer.
}

// wireLinkLocked registers the link callbacks. Caller holds s.mu.
func (s *Session) wireLinkLocked(g guard, link core.PeerTransport) {
	link.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if !s.valid(g) {
			return
		}
		cand := domain.Candidate{
			From:          s.cfg.SelfID,
			Target:        g.partner,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		}
		_ = s.bus.Send(domain.EventICECandidate, cand)
	})
	link.OnTrack(func(kind webrtc.RTPCodecType, track core.RemoteTrack) {
		s.handleRemoteTrack(g, kind, track)
	})
	link.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.onConnectionState(g, state)
	})
}

// HandleOffer applies a remote offer. A different bound partner or an
// already-set remote description makes it a benign no-op.
func (s *Session) HandleOffer(d domain.Description) {
	s.mu.Lock()
	if s.state == domain.StateInactive {
		s.mu.Unlock()
		return
	}
	if s.partnerID == "" || d.From != s.partnerID {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("from", string(d.From)).Msg("offer from unbound partner ignored")
		return
	}
	link := s.link
	if link == nil || link.Closed() {
		// Match processing has not built the link yet; replayed once
		// it exists.
		s.pendingOffer = &d
		s.mu.Unlock()
		return
	}
	if link.HasRemoteDescription() {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("from", string(d.From)).Msg("duplicate offer ignored")
		return
	}
	s.state = domain.StateNegotiating
	g := s.guardLocked()
	s.mu.Unlock()

	s.applyOffer(g, link, d)
}

// HandleAnswer applies a remote answer. Ignored unless we hold a local
// offer with no remote description yet.
func (s *Session) HandleAnswer(d domain.Description) {
	s.mu.Lock()
	if s.state == domain.StateInactive || s.partnerID == "" || d.From != s.partnerID {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.mu.Unlock()
	if link == nil || link.Closed() {
		return
	}
	if link.SignalingState() != webrtc.SignalingStateHaveLocalOffer || link.HasRemoteDescription() {
		log.Debug().Str("module", "session").Str("from", string(d.From)).Msg("answer without matching local offer ignored")
		return
	}
	s.negMu.Lock()
	defer s.negMu.Unlock()
	if err := link.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.SDP.Kind),
		SDP:  d.SDP.SDP,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("set remote answer")
		return
	}
	s.drainCandidates(d.From, link)
}

// HandleCandidate applies a candidate immediately when the remote
// description exists, otherwise buffers it in arrival order.
func (s *Session) HandleCandidate(c domain.Candidate) {
	s.mu.Lock()
	if s.state == domain.StateInactive {
		s.mu.Unlock()
		return
	}
	link := s.link
	bound := s.partnerID
	s.mu.Unlock()

	ci := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	s.negMu.Lock()
	defer s.negMu.Unlock()
	if link == nil || link.Closed() || bound != c.From || !link.HasRemoteDescription() {
		s.pending.Push(c.From, ci)
		return
	}
	if err := link.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("add candidate")
	}
}

func (s *Session) drainCandidates(from domain.TransportID, link core.PeerTransport) {
	for _, ci := range s.pending.Drain(from) {
		if err := link.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("apply queued candidate")
		}
	}
}

// HandlePeerGone reacts to a partner that stopped or left without an
// explicit hangup: Random mode auto-continues, Direct mode ends.
func (s *Session) HandlePeerGone(p domain.PeerGone) {
	s.mu.Lock()
	if s.state == domain.StateInactive || (s.partnerID != "" && p.PeerID != s.partnerID) {
		s.mu.Unlock()
		return
	}
	mode := s.cfg.Mode
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("peer", string(p.PeerID)).Str("reason", p.Reason).Msg("peer gone")
	if mode == domain.ModeRandom {
		s.continueSearching()
	} else {
		s.Abort(context.Background(), "")
	}
}

// HandleCallAccepted completes direct-mode call setup: the room is
// assigned and the pairing proceeds like a match.
func (s *Session) HandleCallAccepted(a domain.CallAccepted) {
	s.mu.Lock()
	if s.cfg.Mode != domain.ModeDirect || s.state == domain.StateInactive {
		s.mu.Unlock()
		return
	}
	if a.CallID != "" && s.callID != "" && a.CallID != s.callID {
		s.mu.Unlock()
		return
	}
	partner := s.cfg.PartnerID
	if a.From != "" {
		partner = a.From
	}
	if s.partner == nil && a.FromUserID != "" {
		s.partner = &domain.User{ID: a.FromUserID}
	}
	s.mu.Unlock()

	s.HandleMatchFound(domain.MatchFound{PartnerID: partner, RoomID: a.RoomID})
}

// HandleCallEnded covers call:ended, call:busy, call:declined and
// call:timeout. Always a synchronous, idempotent teardown.
func (s *Session) HandleCallEnded(t domain.EventType, c domain.CallControl) {
	s.mu.Lock()
	if c.CallID != "" && s.callID != "" && c.CallID != s.callID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fault := ""
	switch t {
	case domain.EventCallBusy:
		fault = FaultBusy
	case domain.EventCallDeclined:
		fault = FaultDeclined
	case domain.EventCallTimeout:
		fault = FaultTimeout
	}
	s.Abort(context.Background(), fault)
}

// HandleCamToggle updates the remote camera snapshot state.
func (s *Session) HandleCamToggle(ct domain.CamToggle) {
	s.mu.Lock()
	if s.state == domain.StateInactive || (ct.From != "" && s.partnerID != "" && ct.From != s.partnerID) {
		s.mu.Unlock()
		return
	}
	s.remoteCamOn = ct.Enabled
	s.mu.Unlock()
	s.publish()
}

// HandleRemotePiP is informational only; the renderer may badge it.
func (s *Session) HandleRemotePiP(p domain.PiPState) {
	log.Debug().Str("module", "session").Bool("inPiP", p.InPiP).Str("from", string(p.From)).Msg("remote pip state")
}
