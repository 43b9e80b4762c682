// Package rtc adapts the pion WebRTC engine to the session core.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

var errNoNominatedPair = errors.New("no nominated candidate pair")

// Session implements core.MediaSession over one PeerConnection.
type Session struct {
	pc   *webrtc.PeerConnection
	room domain.RoomID

	mu            sync.Mutex
	senders       map[core.TrackKind]*sender
	onRemoteAudio func(bool)
}

// Factory returns a core.MediaFactory bound to one room, for the session
// to rebuild the engine with freshly fetched ICE servers.
func Factory(room domain.RoomID) core.MediaFactory {
	return func(servers []webrtc.ICEServer) (core.MediaSession, error) {
		return NewSession(room, servers)
	}
}

func NewSession(room domain.RoomID, servers []webrtc.ICEServer) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	s := &Session{
		pc:      pc,
		room:    room,
		senders: make(map[core.TrackKind]*sender),
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("room", string(room)).
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go s.watchRemoteAudio(track)
		}
	})
	return s, nil
}

// watchRemoteAudio reads the remote audio track with a short deadline to
// tell silence (remote mute) from flowing media. Only reports changes.
func (s *Session) watchRemoteAudio(track *webrtc.TrackRemote) {
	const silentAfter = 2 * time.Second
	active := true
	report := func(now bool) {
		if now == active {
			return
		}
		active = now
		s.mu.Lock()
		fn := s.onRemoteAudio
		s.mu.Unlock()
		if fn != nil {
			fn(now)
		}
	}

	for {
		if err := track.SetReadDeadline(time.Now().Add(silentAfter)); err != nil {
			return
		}
		_, _, err := track.ReadRTP()
		if err == nil {
			report(true)
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			report(false)
			continue
		}
		return
	}
}

func (s *Session) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return s.pc.CreateOffer(opts)
}

func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

func (s *Session) SetLocalDescription(sd webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sd)
}

func (s *Session) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(sd)
}

func (s *Session) HasRemoteDescription() bool {
	return s.pc.RemoteDescription() != nil
}

func (s *Session) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(ci)
}

func (s *Session) AddTrack(t core.Track) (core.Sender, error) {
	lt, ok := t.(*localTrack)
	if !ok {
		return nil, fmt.Errorf("unsupported track type %T", t)
	}
	rtpSender, err := s.pc.AddTrack(lt.sample)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	snd := &sender{rtp: rtpSender, current: lt}
	s.mu.Lock()
	s.senders[t.Kind()] = snd
	s.mu.Unlock()
	return snd, nil
}

func (s *Session) VideoSender() (core.Sender, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snd, ok := s.senders[core.TrackVideo]
	return snd, ok
}

func (s *Session) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (s *Session) OnRemoteAudioActivity(fn func(active bool)) {
	s.mu.Lock()
	s.onRemoteAudio = fn
	s.mu.Unlock()
}

func (s *Session) OnConnectionState(fn func(core.TransportState)) {
	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("room", string(s.room)).Str("state", st.String()).Msg("peer connection state")
		fn(mapTransportState(st))
	})
}

// Stats samples the nominated ICE candidate pair. No nominated pair means
// the route is gone and the sample fails.
func (s *Session) Stats(_ context.Context) (core.TransportStats, error) {
	report := s.pc.GetStats()
	for _, v := range report {
		pair, ok := v.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		return core.TransportStats{
			RTT:       time.Duration(pair.CurrentRoundTripTime * float64(time.Second)),
			BytesSent: pair.BytesSent,
			BytesRecv: pair.BytesReceived,
			SampledAt: time.Now(),
		}, nil
	}
	return core.TransportStats{}, errNoNominatedPair
}

func (s *Session) Close() {
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("room", string(s.room)).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("room", string(s.room)).Msg("closed")
}

func mapTransportState(st webrtc.PeerConnectionState) core.TransportState {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return core.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	default:
		return core.TransportClosed
	}
}

// sender carries one outbound slot; ReplaceTrack swaps the media without
// renegotiating.
type sender struct {
	rtp *webrtc.RTPSender

	mu      sync.Mutex
	current *localTrack
}

func (s *sender) Track() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *sender) ReplaceTrack(t core.Track) error {
	lt, ok := t.(*localTrack)
	if !ok {
		return fmt.Errorf("unsupported track type %T", t)
	}
	if err := s.rtp.ReplaceTrack(lt.sample); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	s.mu.Lock()
	s.current = lt
	s.mu.Unlock()
	return nil
}
