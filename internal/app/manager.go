// Package app binds the signaling channel to call sessions: it routes
// inbound envelopes, owns the one active session, and surfaces
// direct-mode invitations.
package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
	"github.com/karyven/peerchat/internal/session"
)

// IncomingCall is a direct-mode invitation awaiting a user decision.
type IncomingCall struct {
	CallID   domain.CallID
	From     domain.TransportID
	FromNick string

	// Accept creates the receiver session and starts it.
	Accept func(ctx context.Context) *session.Session
	// Decline refuses the invitation.
	Decline func()
}

// Deps carries the collaborators every session is built from.
type Deps struct {
	SelfID  domain.TransportID
	Bus     core.SignalBus
	Sink    core.StateSink
	Media   core.MediaSource
	NewLink session.LinkFactory

	// Session template: facing, cooldowns, debounce.
	SessionCfg session.Config
}

// Manager owns at most one live session at a time; a new call always
// constructs a new one.
type Manager struct {
	deps Deps

	mu      sync.RWMutex
	current *session.Session

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps}
}

// OnIncoming registers a callback fired for each direct invitation.
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// Current returns the live session, or nil.
func (m *Manager) Current() *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current session view, or an idle one.
func (m *Manager) Snapshot() core.Snapshot {
	if s := m.Current(); s != nil {
		return s.Snapshot()
	}
	return core.Snapshot{State: domain.StateIdle}
}

func (m *Manager) newSession(cfg session.Config) *session.Session {
	return session.New(cfg, m.deps.Bus, m.deps.Sink, m.deps.Media, m.deps.NewLink)
}

// StartRandom begins anonymous matchmaking, replacing any prior
// session.
func (m *Manager) StartRandom(ctx context.Context) *session.Session {
	cfg := m.deps.SessionCfg
	cfg.SelfID = m.deps.SelfID
	cfg.Mode = domain.ModeRandom
	cfg.CallID = ""
	cfg.PartnerID = ""
	cfg.Initiator = false
	return m.swapIn(ctx, cfg)
}

// StartDirect begins an addressed call to target as the initiator. The
// invitation itself travels through the call-setup collaborator; this
// session waits for call:accepted.
func (m *Manager) StartDirect(ctx context.Context, target domain.TransportID) *session.Session {
	cfg := m.deps.SessionCfg
	cfg.SelfID = m.deps.SelfID
	cfg.Mode = domain.ModeDirect
	cfg.CallID = domain.CallID(uuid.NewString())
	cfg.PartnerID = target
	cfg.Initiator = true
	return m.swapIn(ctx, cfg)
}

func (m *Manager) swapIn(ctx context.Context, cfg session.Config) *session.Session {
	sess := m.newSession(cfg)

	m.mu.Lock()
	prev := m.current
	m.current = sess
	m.mu.Unlock()

	if prev != nil {
		prev.Abort(ctx, "")
	}
	sess.Start(ctx)
	log.Info().Str("module", "app").Str("mode", string(cfg.Mode)).Str("call_id", string(cfg.CallID)).Msg("session started")
	return sess
}

// Stop ends the current session, releasing the pairing and the capture.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()
	if sess != nil {
		sess.Stop(ctx)
	}
}

// HandleEnvelope routes one inbound signaling message by type.
func (m *Manager) HandleEnvelope(t domain.EventType, data []byte) {
	switch t {
	case domain.EventMatchFound:
		var p domain.MatchFound
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleMatchFound(p) })
	case domain.EventOffer:
		var p domain.Description
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleOffer(p) })
	case domain.EventAnswer:
		var p domain.Description
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleAnswer(p) })
	case domain.EventICECandidate:
		var p domain.Candidate
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleCandidate(p) })
	case domain.EventPeerStopped, domain.EventPeerLeft:
		var p domain.PeerGone
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandlePeerGone(p) })
	case domain.EventCallIncoming:
		var p domain.CallIncoming
		if !m.decode(t, data, &p) {
			return
		}
		m.handleIncoming(p)
	case domain.EventCallAccepted:
		var p domain.CallAccepted
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleCallAccepted(p) })
	case domain.EventCallBusy, domain.EventCallDeclined, domain.EventCallTimeout, domain.EventCallEnded:
		var p domain.CallControl
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleCallEnded(t, p) })
	case domain.EventCamToggle:
		var p domain.CamToggle
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleCamToggle(p) })
	case domain.EventPiPState:
		var p domain.PiPState
		if !m.decode(t, data, &p) {
			return
		}
		m.withSession(func(s *session.Session) { s.HandleRemotePiP(p) })
	default:
		log.Warn().Str("module", "app").Str("type", string(t)).Msg("unknown signal")
	}
}

func (m *Manager) decode(t domain.EventType, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("module", "app").Str("type", string(t)).Msg("bad payload")
		return false
	}
	return true
}

func (m *Manager) withSession(fn func(*session.Session)) {
	if s := m.Current(); s != nil {
		fn(s)
	}
}

// handleIncoming surfaces a direct invitation, or answers busy when a
// session is already live.
func (m *Manager) handleIncoming(p domain.CallIncoming) {
	if cur := m.Current(); cur != nil && cur.State() != domain.StateInactive {
		log.Info().Str("module", "app").Str("call_id", string(p.CallID)).Msg("busy, declining invite")
		_ = m.deps.Bus.Send(domain.EventCallBusy, domain.CallControl{CallID: p.CallID, From: m.deps.SelfID})
		return
	}

	ic := &IncomingCall{
		CallID:   p.CallID,
		From:     p.From,
		FromNick: p.FromNick,
		Accept: func(ctx context.Context) *session.Session {
			cfg := m.deps.SessionCfg
			cfg.SelfID = m.deps.SelfID
			cfg.Mode = domain.ModeDirect
			cfg.CallID = p.CallID
			cfg.PartnerID = p.From
			cfg.Initiator = false
			sess := m.swapIn(ctx, cfg)
			// The caller waits on this confirmation; the room
			// assignment comes back on the same event type.
			_ = m.deps.Bus.Send(domain.EventCallAccepted, domain.CallControl{CallID: p.CallID, From: m.deps.SelfID})
			return sess
		},
		Decline: func() {
			_ = m.deps.Bus.Send(domain.EventCallDeclined, domain.CallControl{CallID: p.CallID, From: m.deps.SelfID})
		},
	}

	m.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(ic)
	}
}
