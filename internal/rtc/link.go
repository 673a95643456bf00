// Package rtc implements the peer link over a pion PeerConnection.
package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/core"
	"github.com/karyven/peerchat/internal/domain"
)

var ErrLinkClosed = errors.New("peer link closed")

// Link owns exactly one underlying PeerConnection, its outbound
// senders, and its negotiation flags. It satisfies core.PeerTransport.
type Link struct {
	pc      *webrtc.PeerConnection
	partner domain.TransportID

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	closed  bool
}

func DefaultConfig(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		stun = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	}
}

// NewLink builds a PeerConnection from api and attaches the given local
// tracks, keeping their senders for later detachment.
func NewLink(api *webrtc.API, cfg webrtc.Configuration, partner domain.TransportID, tracks []webrtc.TrackLocal) (*Link, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &Link{pc: pc, partner: partner}
	for _, t := range tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		l.senders = append(l.senders, sender)
	}
	if len(tracks) == 0 {
		// Recvonly transceivers keep the SDP valid with no capture.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				log.Error().Err(err).Str("module", "rtc").Str("kind", kind.String()).Msg("add transceiver")
			}
		}
	}
	return l, nil
}

func (l *Link) CreateOffer(restart bool) (webrtc.SessionDescription, error) {
	if l.Closed() {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	if l.Closed() {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (l *Link) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if l.Closed() {
		return ErrLinkClosed
	}
	return l.pc.SetRemoteDescription(desc)
}

func (l *Link) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if l.Closed() {
		return ErrLinkClosed
	}
	return l.pc.AddICECandidate(ci)
}

func (l *Link) HasLocalDescription() bool  { return l.pc.LocalDescription() != nil }
func (l *Link) HasRemoteDescription() bool { return l.pc.RemoteDescription() != nil }

func (l *Link) SignalingState() webrtc.SignalingState { return l.pc.SignalingState() }

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})
}

func (l *Link) OnTrack(fn func(webrtc.RTPCodecType, core.RemoteTrack)) {
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("partner", string(l.partner)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if fn != nil {
			fn(track.Kind(), track)
		}
	})
}

func (l *Link) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("partner", string(l.partner)).Str("state", s.String()).Msg("peer state")
		if fn != nil {
			fn(s)
		}
	})
}

// DetachCallbacks unhooks every handler so no callback can fire against
// a session that has already moved on. Must precede Close.
func (l *Link) DetachCallbacks() {
	l.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	l.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	l.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
	l.pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
}

// DetachSenders nils out each outbound track. Stopping capture tracks
// before this leaves the platform capture indicator lit on some devices.
func (l *Link) DetachSenders() error {
	l.mu.Lock()
	senders := l.senders
	l.mu.Unlock()

	var firstErr error
	for _, s := range senders {
		if err := s.ReplaceTrack(nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("partner", string(l.partner)).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("partner", string(l.partner)).Msg("closed")
	return nil
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
