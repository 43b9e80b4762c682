package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

// fakeChannel records outbound envelopes and lets tests inject inbound
// events through the registered handlers.
type fakeChannel struct {
	mu        sync.Mutex
	id        string
	connected bool
	failNext  bool
	sent      []core.Envelope
	handlers  map[core.EventType]func(core.Envelope)
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, handlers: make(map[core.EventType]func(core.Envelope))}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Connect(ctx context.Context, identity domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return core.ErrChannelUnavailable
	}
	c.connected = true
	return nil
}

func (c *fakeChannel) Send(env core.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Handle(t core.EventType, fn func(core.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = fn
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// deliver injects an inbound event as the read pump would.
func (c *fakeChannel) deliver(env core.Envelope) {
	c.mu.Lock()
	fn := c.handlers[env.Type]
	c.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

// sentOf returns the recorded envelopes of one type.
func (c *fakeChannel) sentOf(t core.EventType) []core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Envelope
	for _, env := range c.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// fakeMedia is a scripted media engine. Descriptions are opaque strings;
// the fake only tracks ordering and the candidates it was handed.
type fakeMedia struct {
	mu           sync.Mutex
	offerSeq     int
	remoteSet    bool
	localSDPs    []string
	remoteSDPs   []string
	candidates   []webrtc.ICECandidateInit
	restartCount int
	senders      []*fakeSender
	onICE        func(webrtc.ICECandidateInit)
	onConnState  func(core.TransportState)
	onAudio      func(bool)
	statsRTT     time.Duration
	statsErr     error
	closed       bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{statsRTT: 50 * time.Millisecond}
}

func (m *fakeMedia) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerSeq++
	if iceRestart {
		m.restartCount++
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", m.offerSeq),
	}, nil
}

func (m *fakeMedia) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.remoteSet {
		return webrtc.SessionDescription{}, errors.New("answer without remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-1"}, nil
}

func (m *fakeMedia) SetLocalDescription(sd webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localSDPs = append(m.localSDPs, sd.SDP)
	return nil
}

func (m *fakeMedia) SetRemoteDescription(sd webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteSet = true
	m.remoteSDPs = append(m.remoteSDPs, sd.SDP)
	return nil
}

func (m *fakeMedia) HasRemoteDescription() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSet
}

func (m *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *fakeMedia) AddTrack(t core.Track) (core.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &fakeSender{track: t}
	m.senders = append(m.senders, s)
	return s, nil
}

func (m *fakeMedia) VideoSender() (core.Sender, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.senders {
		if s.Track().Kind() == core.TrackVideo {
			return s, true
		}
	}
	return nil, false
}

func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }
func (m *fakeMedia) OnConnectionState(fn func(core.TransportState)) { m.onConnState = fn }
func (m *fakeMedia) OnRemoteAudioActivity(fn func(bool))            { m.onAudio = fn }

func (m *fakeMedia) Stats(ctx context.Context) (core.TransportStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statsErr != nil {
		return core.TransportStats{}, m.statsErr
	}
	return core.TransportStats{RTT: m.statsRTT, SampledAt: time.Now()}, nil
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) receivedCandidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(m.candidates))
	copy(out, m.candidates)
	return out
}

type fakeSender struct {
	mu    sync.Mutex
	track core.Track
}

func (s *fakeSender) Track() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t core.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

// fakeTrack is an in-memory track with the soft enabled flag.
type fakeTrack struct {
	mu      sync.Mutex
	kind    core.TrackKind
	source  domain.SourceKind
	enabled bool
	stopped bool
	onEnded func()
}

func newFakeTrack(kind core.TrackKind, source domain.SourceKind) *fakeTrack {
	return &fakeTrack{kind: kind, source: source, enabled: true}
}

func (t *fakeTrack) Kind() core.TrackKind      { return t.kind }
func (t *fakeTrack) Source() domain.SourceKind { return t.source }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// endExternally simulates the OS ending a screen capture.
func (t *fakeTrack) endExternally() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeLocalMedia struct {
	audio *fakeTrack
	video *fakeTrack
}

func newFakeLocalMedia() *fakeLocalMedia {
	return &fakeLocalMedia{
		audio: newFakeTrack(core.TrackAudio, domain.SourceMicrophone),
		video: newFakeTrack(core.TrackVideo, domain.SourceCamera),
	}
}

func (l *fakeLocalMedia) AudioTrack() core.Track { return l.audio }
func (l *fakeLocalMedia) VideoTrack() core.Track { return l.video }
func (l *fakeLocalMedia) Stop() {
	l.audio.Stop()
	l.video.Stop()
}

// fakeSource hands out fake capture devices.
type fakeSource struct {
	mu         sync.Mutex
	denyUser   bool
	denyScreen bool
	media      *fakeLocalMedia
	screens    []*fakeTrack
}

func newFakeSource() *fakeSource {
	return &fakeSource{media: newFakeLocalMedia()}
}

func (s *fakeSource) AcquireUserMedia(ctx context.Context, audio, video bool) (core.LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denyUser {
		return nil, errors.New("permission denied")
	}
	return s.media, nil
}

func (s *fakeSource) AcquireDisplayMedia(ctx context.Context) (core.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denyScreen {
		return nil, errors.New("permission denied")
	}
	t := newFakeTrack(core.TrackVideo, domain.SourceScreen)
	s.screens = append(s.screens, t)
	return t, nil
}

type fakeICE struct{}

func (fakeICE) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}, nil
}

func candidateJSON(s string) string {
	return fmt.Sprintf(`{"candidate":%q}`, s)
}
