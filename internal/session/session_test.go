package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
)

// fakeBus records every outbound envelope for verification.
type fakeBus struct {
	mu   sync.Mutex
	sent []busMsg
	ch   chan busMsg
}

type busMsg struct {
	t       domain.EventType
	payload any
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan busMsg, 64)}
}

func (b *fakeBus) Send(t domain.EventType, payload any) error {
	b.mu.Lock()
	b.sent = append(b.sent, busMsg{t, payload})
	b.mu.Unlock()
	b.ch <- busMsg{t, payload}
	return nil
}

func (b *fakeBus) Close() {}

func (b *fakeBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.sent {
		if m.t == t {
			n++
		}
	}
	return n
}

// waitFor blocks until an envelope of type t passes the bus.
func (b *fakeBus) waitFor(t *testing.T, et domain.EventType) busMsg {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-b.ch:
			if m.t == et {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", et)
		}
	}
}

// fakeMedia tracks acquire/release calls.
type fakeMedia struct {
	mu       sync.Mutex
	valid    bool
	acquired int
	released int
	audioOn  bool
	videoOn  bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{audioOn: true, videoOn: true}
}

func (m *fakeMedia) Acquire(ctx context.Context, _ domain.Facing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
	m.valid = true
	return nil
}

func (m *fakeMedia) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	m.valid = false
	return nil
}

func (m *fakeMedia) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) SetAudioEnabled(on bool) { m.mu.Lock(); m.audioOn = on; m.mu.Unlock() }
func (m *fakeMedia) SetVideoEnabled(on bool) { m.mu.Lock(); m.videoOn = on; m.mu.Unlock() }
func (m *fakeMedia) AudioEnabled() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.audioOn }
func (m *fakeMedia) VideoEnabled() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.videoOn }

func (m *fakeMedia) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// fakeLink is a scriptable core.PeerTransport.
type fakeLink struct {
	mu        sync.Mutex
	closed    bool
	localSet  bool
	remoteSet bool
	sigState  webrtc.SignalingState

	candidates []webrtc.ICECandidateInit

	detachedCallbacks bool
	detachedSenders   bool
	closeCalls        int

	onConn  func(webrtc.PeerConnectionState)
	onTrack func(webrtc.RTPCodecType, core.RemoteTrack)

	// offerStarted is signaled when CreateOffer is entered;
	// offerGate, when non-nil, blocks CreateOffer until closed.
	offerStarted chan struct{}
	offerGate    chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		sigState:     webrtc.SignalingStateStable,
		offerStarted: make(chan struct{}, 1),
	}
}

func (l *fakeLink) CreateOffer(restart bool) (webrtc.SessionDescription, error) {
	select {
	case l.offerStarted <- struct{}{}:
	default:
	}
	if l.offerGate != nil {
		<-l.offerGate
	}
	l.mu.Lock()
	l.localSet = true
	l.sigState = webrtc.SignalingStateHaveLocalOffer
	l.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (l *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	l.localSet = true
	l.sigState = webrtc.SignalingStateStable
	l.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (l *fakeLink) SetRemoteDescription(d webrtc.SessionDescription) error {
	l.mu.Lock()
	l.remoteSet = true
	if d.Type == webrtc.SDPTypeOffer {
		l.sigState = webrtc.SignalingStateHaveRemoteOffer
	} else {
		l.sigState = webrtc.SignalingStateStable
	}
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) AddICECandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	l.candidates = append(l.candidates, ci)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) HasLocalDescription() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localSet
}

func (l *fakeLink) HasRemoteDescription() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSet
}

func (l *fakeLink) SignalingState() webrtc.SignalingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sigState
}

func (l *fakeLink) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (l *fakeLink) OnTrack(fn func(webrtc.RTPCodecType, core.RemoteTrack)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *fakeLink) fireTrack(kind webrtc.RTPCodecType, track core.RemoteTrack) {
	l.mu.Lock()
	fn := l.onTrack
	l.mu.Unlock()
	if fn != nil {
		fn(kind, track)
	}
}

func (l *fakeLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.mu.Lock()
	l.onConn = fn
	l.mu.Unlock()
}

func (l *fakeLink) fireConnState(s webrtc.PeerConnectionState) {
	l.mu.Lock()
	fn := l.onConn
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *fakeLink) DetachCallbacks() {
	l.mu.Lock()
	l.detachedCallbacks = true
	l.onConn = nil
	l.onTrack = nil
	l.mu.Unlock()
}

func (l *fakeLink) DetachSenders() error {
	l.mu.Lock()
	l.detachedSenders = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.closeCalls++
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) appliedCandidates() []webrtc.ICECandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(l.candidates))
	copy(out, l.candidates)
	return out
}

// fakeTrack records meter reads and ends the stream immediately.
type fakeTrack struct {
	mu        sync.Mutex
	deadlines int
}

func (f *fakeTrack) SetReadDeadline(time.Time) error {
	f.mu.Lock()
	f.deadlines++
	f.mu.Unlock()
	return nil
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

func (f *fakeTrack) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadlines
}

// linkRecorder hands out fake links and remembers them.
type linkRecorder struct {
	mu    sync.Mutex
	links []*fakeLink
	next  *fakeLink
}

func (r *linkRecorder) factory(_ domain.TransportID, _ []webrtc.TrackLocal) (core.PeerTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.next
	if l == nil {
		l = newFakeLink()
	}
	r.next = nil
	r.links = append(r.links, l)
	return l, nil
}

func (r *linkRecorder) created() []*fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeLink, len(r.links))
	copy(out, r.links)
	return out
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type harness struct {
	bus   *fakeBus
	media *fakeMedia
	links *linkRecorder
	sess  *Session
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		bus:   newFakeBus(),
		media: newFakeMedia(),
		links: &linkRecorder{},
	}
	if cfg.SelfID == "" {
		cfg.SelfID = "self"
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeRandom
	}
	h.sess = New(cfg, h.bus, core.NopSink{}, h.media, h.links.factory)
	return h
}

func (h *harness) startAndMatch(t *testing.T, partner domain.TransportID) {
	t.Helper()
	h.sess.Start(context.Background())
	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: partner, RoomID: "room-1"})
}

func TestRandomMatchLowerIDSendsOffer(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")

	if got := h.sess.Role(); got != domain.RoleCaller {
		t.Fatalf("expected caller role, got %q", got)
	}
	msg := h.bus.waitFor(t, domain.EventOffer)
	d, ok := msg.payload.(domain.Description)
	if !ok {
		t.Fatalf("offer payload has type %T", msg.payload)
	}
	if d.Target != "xyz" {
		t.Errorf("offer targeted %q, want xyz", d.Target)
	}
	if d.SDP.Kind != "offer" {
		t.Errorf("sdp kind = %q, want offer", d.SDP.Kind)
	}
}

func TestRandomMatchHigherIDAnswers(t *testing.T) {
	h := newHarness(t, Config{SelfID: "xyz"})
	h.startAndMatch(t, "abc")

	if got := h.sess.Role(); got != domain.RoleReceiver {
		t.Fatalf("expected receiver role, got %q", got)
	}
	eventually(t, func() bool { return h.sess.State() == domain.StateNegotiating }, "never reached negotiating")
	if n := h.bus.count(domain.EventOffer); n != 0 {
		t.Fatalf("receiver sent %d offers", n)
	}

	h.sess.HandleOffer(domain.Description{
		From: "abc",
		SDP:  domain.SessionDesc{Kind: "offer", SDP: "v=0 remote"},
	})
	msg := h.bus.waitFor(t, domain.EventAnswer)
	d := msg.payload.(domain.Description)
	if d.Target != "abc" {
		t.Errorf("answer targeted %q, want abc", d.Target)
	}

	link := h.links.created()[0]
	link.fireConnState(webrtc.PeerConnectionStateConnected)
	eventually(t, func() bool { return h.sess.State() == domain.StateConnected }, "never reached connected")
}

func TestCallerReachesConnectedAfterAnswer(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.HandleAnswer(domain.Description{
		From: "xyz",
		SDP:  domain.SessionDesc{Kind: "answer", SDP: "v=0 remote"},
	})
	link := h.links.created()[0]
	if !link.HasRemoteDescription() {
		t.Fatal("answer did not set remote description")
	}
	link.fireConnState(webrtc.PeerConnectionStateConnected)
	eventually(t, func() bool { return h.sess.State() == domain.StateConnected }, "never reached connected")
}

func TestMeterStartsWhenTrackArrivesAfterConnected(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	link := h.links.created()[0]
	link.fireConnState(webrtc.PeerConnectionStateConnected)
	eventually(t, func() bool { return h.sess.State() == domain.StateConnected }, "never reached connected")

	// The first inbound packet, and with it the track, lands after the
	// transport already reported Connected.
	tr := &fakeTrack{}
	link.fireTrack(webrtc.RTPCodecTypeAudio, tr)

	eventually(t, func() bool { return tr.reads() > 0 }, "meter never read the remote audio track")
	if !h.sess.Snapshot().HasRemoteStream {
		t.Fatal("remote stream not reflected in snapshot")
	}
}

func TestMeterStartsWhenTrackArrivesBeforeConnected(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	link := h.links.created()[0]
	tr := &fakeTrack{}
	link.fireTrack(webrtc.RTPCodecTypeAudio, tr)
	link.fireConnState(webrtc.PeerConnectionStateConnected)

	eventually(t, func() bool { return tr.reads() > 0 }, "meter never read the remote audio track")
}

func TestEarlyCandidateQueuedThenDrained(t *testing.T) {
	h := newHarness(t, Config{SelfID: "xyz"})
	h.sess.Start(context.Background())

	// Candidate for p1 arrives before anything else is known about p1.
	h.sess.HandleCandidate(domain.Candidate{From: "abc", Candidate: "cand-1"})
	h.sess.HandleCandidate(domain.Candidate{From: "abc", Candidate: "cand-2"})

	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: "abc"})
	eventually(t, func() bool { return h.sess.State() == domain.StateNegotiating }, "never reached negotiating")

	link := h.links.created()[0]
	if got := link.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	h.sess.HandleOffer(domain.Description{
		From: "abc",
		SDP:  domain.SessionDesc{Kind: "offer", SDP: "v=0 remote"},
	})
	h.bus.waitFor(t, domain.EventAnswer)

	got := link.appliedCandidates()
	if len(got) != 2 || got[0].Candidate != "cand-1" || got[1].Candidate != "cand-2" {
		t.Fatalf("expected cand-1, cand-2 in order, got %v", got)
	}

	// A later candidate applies directly.
	h.sess.HandleCandidate(domain.Candidate{From: "abc", Candidate: "cand-3"})
	if got := link.appliedCandidates(); len(got) != 3 || got[2].Candidate != "cand-3" {
		t.Fatalf("late candidate not applied directly: %v", got)
	}
}

func TestAbortDuringOfferCreationSendsNothing(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc", Mode: domain.ModeDirect, CallID: "c1", PartnerID: "xyz", Initiator: true})
	gated := newFakeLink()
	gated.offerGate = make(chan struct{})
	h.links.next = gated

	h.sess.Start(context.Background())
	h.sess.HandleCallAccepted(domain.CallAccepted{CallID: "c1", RoomID: "room-9"})

	<-gated.offerStarted
	// call:ended lands while the offer is mid-creation.
	h.sess.HandleCallEnded(domain.EventCallEnded, domain.CallControl{CallID: "c1"})
	close(gated.offerGate)

	time.Sleep(50 * time.Millisecond)
	if n := h.bus.count(domain.EventOffer); n != 0 {
		t.Fatalf("stale offer was sent %d times", n)
	}
	if got := h.sess.State(); got != domain.StateInactive {
		t.Fatalf("state = %q, want inactive", got)
	}
}

func TestNextDebouncedToSingleSignal(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.Next(context.Background())
	h.sess.Next(context.Background()) // double click

	if n := h.bus.count(domain.EventNext); n != 1 {
		t.Fatalf("sent %d next signals, want 1", n)
	}
	if n := h.media.releaseCount(); n != 0 {
		t.Fatalf("next released the capture %d times", n)
	}
}

func TestNextKeepsCaptureAcrossRematch(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.media.mu.Lock()
	before := h.media.acquired
	h.media.mu.Unlock()

	h.sess.Next(context.Background())
	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: "uvw"})
	h.bus.waitFor(t, domain.EventOffer)

	if n := h.media.releaseCount(); n != 0 {
		t.Fatalf("capture released %d times across next", n)
	}
	h.media.mu.Lock()
	after := h.media.acquired
	h.media.mu.Unlock()
	if after != before {
		t.Fatalf("capture re-acquired across next: %d -> %d", before, after)
	}
}

func TestSingleNonClosedLink(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.Next(context.Background())
	first := h.links.created()[0]
	if !first.Closed() {
		t.Fatal("prior link not closed after next")
	}
	if !first.detachedCallbacks {
		t.Fatal("callbacks not detached before close")
	}
	if !first.detachedSenders {
		t.Fatal("senders not detached before close")
	}

	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: "uvw"})
	h.bus.waitFor(t, domain.EventOffer)

	open := 0
	for _, l := range h.links.created() {
		if !l.Closed() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("%d non-closed links, want 1", open)
	}
}

func TestAbortIdempotent(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)
	link := h.links.created()[0]

	h.sess.Abort(context.Background(), "")
	h.sess.Abort(context.Background(), "")

	if got := h.sess.State(); got != domain.StateInactive {
		t.Fatalf("state = %q, want inactive", got)
	}
	if link.closeCalls != 1 {
		t.Fatalf("link closed %d times, want 1", link.closeCalls)
	}
	if n := h.media.releaseCount(); n != 1 {
		t.Fatalf("capture released %d times, want 1", n)
	}
	snap := h.sess.Snapshot()
	if snap.Partner != "" || snap.RoomID != "" || snap.CallID != "" {
		t.Fatalf("identifiers not cleared: %+v", snap)
	}
}

func TestMatchRedeliveryIgnored(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: "xyz"})
	time.Sleep(50 * time.Millisecond)
	if n := len(h.links.created()); n != 1 {
		t.Fatalf("redelivery created %d links", n)
	}
}

func TestPartnerReassignmentRejected(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.HandleMatchFound(domain.MatchFound{PartnerID: "uvw"})
	time.Sleep(50 * time.Millisecond)
	if got := h.sess.Snapshot().Partner; got != "xyz" {
		t.Fatalf("partner reassigned to %q", got)
	}
}

func TestDuplicateOfferIgnored(t *testing.T) {
	h := newHarness(t, Config{SelfID: "xyz"})
	h.startAndMatch(t, "abc")
	eventually(t, func() bool { return h.sess.State() == domain.StateNegotiating }, "never reached negotiating")

	offer := domain.Description{From: "abc", SDP: domain.SessionDesc{Kind: "offer", SDP: "v=0"}}
	h.sess.HandleOffer(offer)
	h.bus.waitFor(t, domain.EventAnswer)

	h.sess.HandleOffer(offer)
	time.Sleep(50 * time.Millisecond)
	if n := h.bus.count(domain.EventAnswer); n != 1 {
		t.Fatalf("duplicate offer produced %d answers", n)
	}
}

func TestAnswerWithoutLocalOfferIgnored(t *testing.T) {
	h := newHarness(t, Config{SelfID: "xyz"})
	h.startAndMatch(t, "abc")
	eventually(t, func() bool { return h.sess.State() == domain.StateNegotiating }, "never reached negotiating")

	h.sess.HandleAnswer(domain.Description{From: "abc", SDP: domain.SessionDesc{Kind: "answer", SDP: "v=0"}})
	link := h.links.created()[0]
	if link.HasRemoteDescription() {
		t.Fatal("answer applied with no local offer outstanding")
	}
}

func TestOfferFromUnboundPartnerIgnored(t *testing.T) {
	h := newHarness(t, Config{SelfID: "xyz"})
	h.startAndMatch(t, "abc")
	eventually(t, func() bool { return h.sess.State() == domain.StateNegotiating }, "never reached negotiating")

	h.sess.HandleOffer(domain.Description{From: "mallory", SDP: domain.SessionDesc{Kind: "offer", SDP: "v=0"}})
	link := h.links.created()[0]
	if link.HasRemoteDescription() {
		t.Fatal("offer from a different partner was applied")
	}
}

func TestPeerGoneRandomAutoContinues(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)
	link := h.links.created()[0]
	link.fireConnState(webrtc.PeerConnectionStateConnected)
	eventually(t, func() bool { return h.sess.State() == domain.StateConnected }, "never connected")

	h.sess.HandlePeerGone(domain.PeerGone{PeerID: "xyz", Reason: "left"})

	if got := h.sess.State(); got != domain.StateSearching {
		t.Fatalf("state = %q, want searching", got)
	}
	if !link.Closed() {
		t.Fatal("old link not closed")
	}
	if n := h.media.releaseCount(); n != 0 {
		t.Fatal("auto-continue released the capture")
	}
	if n := h.bus.count(domain.EventNext); n != 1 {
		t.Fatalf("auto-continue sent %d next signals", n)
	}
}

func TestPeerGoneDirectEndsCall(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc", Mode: domain.ModeDirect, CallID: "c1", PartnerID: "xyz", Initiator: true})
	h.sess.Start(context.Background())
	h.sess.HandleCallAccepted(domain.CallAccepted{CallID: "c1", RoomID: "room-9"})
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.HandlePeerGone(domain.PeerGone{PeerID: "xyz"})
	if got := h.sess.State(); got != domain.StateInactive {
		t.Fatalf("state = %q, want inactive", got)
	}
}

func TestCallBusySurfacesFault(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc", Mode: domain.ModeDirect, CallID: "c1", PartnerID: "xyz", Initiator: true})
	h.sess.Start(context.Background())

	h.sess.HandleCallEnded(domain.EventCallBusy, domain.CallControl{CallID: "c1"})
	if got := h.sess.State(); got != domain.StateInactive {
		t.Fatalf("state = %q, want inactive", got)
	}
	if got := h.sess.Fault(); got != FaultBusy {
		t.Fatalf("fault = %q, want %q", got, FaultBusy)
	}
}

func TestCallEndedForOtherCallIgnored(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc", Mode: domain.ModeDirect, CallID: "c1", PartnerID: "xyz", Initiator: true})
	h.sess.Start(context.Background())

	h.sess.HandleCallEnded(domain.EventCallEnded, domain.CallControl{CallID: "c2"})
	if got := h.sess.State(); got == domain.StateInactive {
		t.Fatal("ended a different call's session")
	}
}

func TestCamToggleRelaysToPartner(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	on := h.sess.ToggleCam()
	if on {
		t.Fatal("toggle from enabled should disable")
	}
	msg := h.bus.waitFor(t, domain.EventCamToggle)
	ct := msg.payload.(domain.CamToggle)
	if ct.Enabled || ct.Target != "xyz" {
		t.Fatalf("unexpected cam-toggle payload: %+v", ct)
	}
}

func TestRemoteCamToggleUpdatesSnapshot(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.HandleCamToggle(domain.CamToggle{Enabled: false, From: "xyz"})
	if h.sess.Snapshot().RemoteCamOn {
		t.Fatal("remote cam state not updated")
	}
}

func TestStopReleasesCapture(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	h.bus.waitFor(t, domain.EventOffer)

	h.sess.Stop(context.Background())
	if n := h.bus.count(domain.EventStop); n != 1 {
		t.Fatalf("sent %d stop signals, want 1", n)
	}
	if n := h.media.releaseCount(); n != 1 {
		t.Fatalf("capture released %d times, want 1", n)
	}
}

func TestRoomJoinAckAndLeave(t *testing.T) {
	h := newHarness(t, Config{SelfID: "abc"})
	h.startAndMatch(t, "xyz")
	msg := h.bus.waitFor(t, domain.EventRoomJoinAck)
	if ref := msg.payload.(domain.RoomRef); ref.RoomID != "room-1" {
		t.Fatalf("join ack for room %q", ref.RoomID)
	}

	h.sess.Abort(context.Background(), "")
	msg = h.bus.waitFor(t, domain.EventRoomLeave)
	if ref := msg.payload.(domain.RoomRef); ref.RoomID != "room-1" {
		t.Fatalf("leave for room %q", ref.RoomID)
	}
}
