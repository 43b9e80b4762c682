package core

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/domain"
)

// TrackKind is the media kind of a local track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is a locally captured media track. Enabled is a soft flag: a
// disabled track stays attached to its sender but produces no media.
type Track interface {
	Kind() TrackKind
	Source() domain.SourceKind
	Enabled() bool
	SetEnabled(bool)
	// OnEnded registers a callback fired when the source ends outside the
	// session's control (e.g. the OS stops a screen capture).
	OnEnded(func())
	Stop()
}

// Sender is the engine-side handle carrying one outbound track. Swapping
// the track does not renegotiate the session.
type Sender interface {
	Track() Track
	ReplaceTrack(Track) error
}

// LocalMedia is the camera+microphone capture handle. Owned by the Session
// for its lifetime; must be stopped on every exit path.
type LocalMedia interface {
	AudioTrack() Track
	VideoTrack() Track
	Stop()
}

// MediaSource acquires capture devices. Acquisition is an opaque external
// operation; failures map to ErrMediaAcquisition.
type MediaSource interface {
	AcquireUserMedia(ctx context.Context, audio, video bool) (LocalMedia, error)
	AcquireDisplayMedia(ctx context.Context) (Track, error)
}

// TransportStats is one sample of the media transport.
type TransportStats struct {
	RTT       time.Duration
	BytesSent uint64
	BytesRecv uint64
	SampledAt time.Time
}

// MediaSession is the facade over the media engine for one negotiation.
// The core never inspects SDP contents, it only routes descriptions and
// enforces ordering.
type MediaSession interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error

	AddTrack(Track) (Sender, error)
	// VideoSender returns the sender carrying the video-out slot, if any.
	VideoSender() (Sender, bool)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionState(func(TransportState))
	// OnRemoteAudioActivity fires when the peer's audio goes silent or
	// resumes, i.e. a remote mute/unmute.
	OnRemoteAudioActivity(func(active bool))

	Stats(ctx context.Context) (TransportStats, error)
	Close()
}

// MediaFactory builds a MediaSession for one negotiation, configured with
// the ICE servers fetched at negotiation start.
type MediaFactory func(servers []webrtc.ICEServer) (MediaSession, error)

// ICEProvider fetches ICE server configuration, consumed once per
// negotiation start.
type ICEProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}
