// Package session implements the call-session state machine: it owns
// the peer link, routes signaling events to it, and exposes the
// lifecycle operations (start, next, stop, background picture mode) to
// the surrounding application.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
	"github.com/karyven/peerchat/internal/rtc"
)

// Fault values surfaced through the snapshot. Internal negotiation
// races are absorbed and never appear here.
const (
	FaultCaptureFailed  = "capture-failed"
	FaultConnectionLost = "connection-lost"
	FaultBusy           = "busy"
	FaultDeclined       = "declined"
	FaultTimeout        = "timeout"
)

// LinkFactory builds a fresh peer link bound to the given local tracks.
type LinkFactory func(partner domain.TransportID, tracks []webrtc.TrackLocal) (core.PeerTransport, error)

// Config fixes the per-session knobs at construction time.
type Config struct {
	SelfID domain.TransportID
	Mode   domain.Mode

	// Direct mode only.
	CallID    domain.CallID
	PartnerID domain.TransportID
	Initiator bool

	Facing          domain.Facing
	RestartCooldown time.Duration
	MaxRestarts     int
	NextDebounce    time.Duration
	MeterInterval   time.Duration
}

func (c *Config) defaults() {
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = 10 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 2
	}
	if c.NextDebounce <= 0 {
		c.NextDebounce = 300 * time.Millisecond
	}
	if c.Facing == "" {
		c.Facing = domain.FacingUser
	}
}

// guard captures the identifiers a multi-step operation was started
// under. Every suspension point re-checks it; a mismatch means the
// session moved on and the step must become a no-op.
type guard struct {
	gen     uint64
	partner domain.TransportID
}

// Session is one call, pending or active. Inactive is terminal: a new
// call always constructs a new Session.
type Session struct {
	cfg     Config
	bus     core.SignalBus
	sink    core.StateSink
	media   core.MediaSource
	newLink LinkFactory

	mu        sync.Mutex
	state     domain.State
	role      domain.Role
	partnerID domain.TransportID
	partner   *domain.User
	roomID    domain.RoomID
	callID    domain.CallID
	gen       uint64

	// negMu serializes remote-description installs against candidate
	// application so candidates are never applied before the remote
	// description exists and never out of receipt order.
	negMu sync.Mutex

	link         core.PeerTransport
	pending      *rtc.PendingCandidates
	pendingOffer *domain.Description
	inflight     map[domain.TransportID]struct{}
	next         *Throttle

	remoteAudio  core.RemoteTrack
	meterCancel  context.CancelFunc
	hasRemote    bool
	remoteCamOn  bool
	micLevel     float64
	loading      bool
	foreground   bool
	inPiP        bool
	fault        string
	lastRestart  time.Time
	restartBusy  bool
	restartCount int
}

func New(cfg Config, bus core.SignalBus, sink core.StateSink, media core.MediaSource, newLink LinkFactory) *Session {
	cfg.defaults()
	if sink == nil {
		sink = core.NopSink{}
	}
	return &Session{
		cfg:         cfg,
		bus:         bus,
		sink:        sink,
		media:       media,
		newLink:     newLink,
		state:       domain.StateIdle,
		callID:      cfg.CallID,
		pending:     rtc.NewPendingCandidates(),
		inflight:    make(map[domain.TransportID]struct{}),
		next:        NewThrottle(1, cfg.NextDebounce),
		remoteCamOn: true,
		foreground:  true,
	}
}

// Start moves Idle to Searching: acquires local media if absent and
// announces intent to the matchmaker.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != domain.StateIdle {
		s.mu.Unlock()
		log.Warn().Str("module", "session").Str("state", string(s.state)).Msg("start ignored")
		return
	}
	s.state = domain.StateSearching
	s.loading = true
	g := s.guardLocked()
	s.mu.Unlock()
	s.publish()

	if s.cfg.Mode == domain.ModeRandom {
		_ = s.bus.Send(domain.EventPresence, domain.Presence{Status: domain.PresenceAvailable})
		_ = s.bus.Send(domain.EventStart, nil)
	} else {
		_ = s.bus.Send(domain.EventPresence, domain.Presence{Status: domain.PresenceBusy})
	}

	go func() {
		if s.media.Valid() {
			return
		}
		err := s.media.Acquire(ctx, s.cfg.Facing)
		if !s.valid(g) {
			// Capture outlives an aborted session; it is only
			// released on explicit stop.
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "session").Msg("capture failed")
			s.failCapture()
			return
		}
		s.publish()
	}()
}

// Next (Random mode, user initiated) tears down only the peer link and
// remote-side state and re-enters Searching. It never releases the
// local capture: consecutive matches must not flicker the camera.
func (s *Session) Next(ctx context.Context) {
	if !s.next.Allow("next") {
		log.Debug().Str("module", "session").Msg("next debounced")
		return
	}
	s.mu.Lock()
	if s.state == domain.StateInactive || s.state == domain.StateIdle || s.cfg.Mode != domain.ModeRandom {
		s.mu.Unlock()
		return
	}
	link := s.detachPartnerLocked()
	s.state = domain.StateSearching
	s.loading = true
	s.mu.Unlock()

	teardownLink(link)
	_ = s.bus.Send(domain.EventNext, nil)
	s.publish()
}

// continueSearching is the non-user-initiated variant of Next: the
// partner dropped without hanging up, so both ends re-queue.
func (s *Session) continueSearching() {
	s.mu.Lock()
	if s.state == domain.StateInactive || s.cfg.Mode != domain.ModeRandom {
		s.mu.Unlock()
		return
	}
	link := s.detachPartnerLocked()
	s.state = domain.StateSearching
	s.loading = true
	s.mu.Unlock()

	teardownLink(link)
	_ = s.bus.Send(domain.EventNext, nil)
	s.publish()
}

// detachPartnerLocked invalidates in-flight steps and clears all
// partner-bound state. Caller holds s.mu and closes the returned link.
func (s *Session) detachPartnerLocked() core.PeerTransport {
	s.gen++
	link := s.link
	s.link = nil
	s.partnerID = ""
	s.partner = nil
	s.roomID = ""
	s.pendingOffer = nil
	s.pending.DiscardAll()
	s.inflight = make(map[domain.TransportID]struct{})
	s.remoteAudio = nil
	s.hasRemote = false
	s.remoteCamOn = true
	s.micLevel = 0
	s.restartCount = 0
	s.restartBusy = false
	if s.meterCancel != nil {
		s.meterCancel()
		s.meterCancel = nil
	}
	return link
}

// Stop is the user-initiated end: it releases the pairing at the
// matchmaker and runs the full teardown including the capture device.
func (s *Session) Stop(ctx context.Context) {
	_ = s.bus.Send(domain.EventStop, nil)
	s.Abort(ctx, "")
}

// Abort marks the session Inactive synchronously, before teardown
// starts, so every in-flight async step observes it and self-aborts.
// Idempotent.
func (s *Session) Abort(ctx context.Context, fault string) {
	s.mu.Lock()
	if s.state == domain.StateInactive {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateInactive
	s.gen++
	if fault != "" {
		s.fault = fault
	}
	link := s.link
	s.link = nil
	roomID := s.roomID
	s.pendingOffer = nil
	s.pending.DiscardAll()
	s.inflight = make(map[domain.TransportID]struct{})
	if s.meterCancel != nil {
		s.meterCancel()
		s.meterCancel = nil
	}
	s.mu.Unlock()

	// Teardown order matters: callbacks off first so nothing fires
	// against a half-torn-down session, senders detached before tracks
	// stop so the platform capture indicator clears, connection closed
	// before the capture is released.
	teardownLink(link)
	if roomID != "" {
		_ = s.bus.Send(domain.EventRoomLeave, domain.RoomRef{RoomID: roomID})
	}
	if err := s.media.Release(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("module", "session").Msg("release capture")
	}
	_ = s.bus.Send(domain.EventPresence, domain.Presence{Status: domain.PresenceAvailable})

	s.mu.Lock()
	s.partnerID = ""
	s.partner = nil
	s.roomID = ""
	s.callID = ""
	s.remoteAudio = nil
	s.hasRemote = false
	s.loading = false
	s.mu.Unlock()
	s.publish()
}

func (s *Session) failCapture() {
	// Fatal for this call attempt; no automatic retry.
	s.Abort(context.Background(), FaultCaptureFailed)
}

func teardownLink(link core.PeerTransport) {
	if link == nil {
		return
	}
	link.DetachCallbacks()
	if err := link.DetachSenders(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("detach senders")
	}
	if err := link.Close(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("close link")
	}
}

// ToggleMic flips the presented microphone state without touching the
// capture device.
func (s *Session) ToggleMic() bool {
	on := !s.media.AudioEnabled()
	s.media.SetAudioEnabled(on)
	s.publish()
	return on
}

// ToggleCam flips the presented camera state and relays it to the
// partner.
func (s *Session) ToggleCam() bool {
	on := !s.media.VideoEnabled()
	s.media.SetVideoEnabled(on)

	s.mu.Lock()
	partner := s.partnerID
	roomID := s.roomID
	s.mu.Unlock()
	if partner != "" {
		_ = s.bus.Send(domain.EventCamToggle, domain.CamToggle{
			Enabled: on,
			From:    s.cfg.SelfID,
			Target:  partner,
			RoomID:  roomID,
		})
	}
	s.publish()
	return on
}

// SetPiP announces picture-in-picture transitions. While in PiP the
// app counts as backgrounded for the ICE-restart gate.
func (s *Session) SetPiP(in bool) {
	s.mu.Lock()
	s.inPiP = in
	partner := s.partnerID
	roomID := s.roomID
	s.mu.Unlock()
	if partner != "" {
		_ = s.bus.Send(domain.EventPiPState, domain.PiPState{InPiP: in, From: s.cfg.SelfID, RoomID: roomID})
	}
	s.publish()
}

// SetForeground records app lifecycle for the ICE-restart gate.
func (s *Session) SetForeground(fg bool) {
	s.mu.Lock()
	s.foreground = fg
	s.mu.Unlock()
}

func (s *Session) guardLocked() guard {
	return guard{gen: s.gen, partner: s.partnerID}
}

func (s *Session) valid(g guard) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(g)
}

func (s *Session) validLocked(g guard) bool {
	return s.state != domain.StateInactive && s.gen == g.gen && s.partnerID == g.partner
}

// State returns the current lifecycle state.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the resolved role, empty until a match is processed.
func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Link exposes the current peer transport for invariant checks.
func (s *Session) Link() core.PeerTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Snapshot builds the state view the rendering collaborator consumes.
func (s *Session) Snapshot() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Snapshot{
		State:           s.state,
		Mode:            s.cfg.Mode,
		Role:            s.role,
		Partner:         s.partnerID,
		RoomID:          s.roomID,
		CallID:          s.callID,
		HasLocalStream:  s.media.Valid(),
		HasRemoteStream: s.hasRemote,
		MicOn:           s.media.AudioEnabled(),
		CamOn:           s.media.VideoEnabled(),
		RemoteCamOn:     s.remoteCamOn,
		MicLevel:        s.micLevel,
		Loading:         s.loading,
		InPiP:           s.inPiP,
		Fault:           s.fault,
	}
}

func (s *Session) publish() {
	s.sink.Publish(s.Snapshot())
}

// Fault returns the surfaced failure, if any.
func (s *Session) Fault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}
