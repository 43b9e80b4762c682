package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

var ErrNotHost = errors.New("not the host of this room")

// SessionConfig carries the pre-join choices made in the lobby plus the
// monitoring policy.
type SessionConfig struct {
	// Gated marks the room as host-gated: a joiner that is not elected
	// host must knock and wait for admission.
	Gated bool
	// AudioEnabled/VideoEnabled are the lobby preview toggles applied to
	// the captured tracks before the first frame is sent.
	AudioEnabled bool
	VideoEnabled bool
	Monitor      MonitorConfig
}

// DefaultSessionConfig starts with both devices live and the reference
// monitoring policy.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{AudioEnabled: true, VideoEnabled: true}
}

// Session owns one room membership end to end: the signaling channel,
// the media session, the negotiation machine and the post-connection
// helpers. It is created on join intent and destroyed on leave; its
// channel and handler set belong to it alone, never shared across
// sessions.
type Session struct {
	roomID   domain.RoomID
	identity domain.Identity
	channel  core.SignalChannel
	factory  core.MediaFactory
	source   core.MediaSource
	ice      core.ICEProvider
	cfg      SessionConfig

	arbiter *RoleArbiter
	buffer  *CandidateBuffer
	neg     *Negotiator

	mu        sync.Mutex
	admission core.Admission
	admCtrl   *AdmissionController
	tracks    *TrackManager
	monitor   *ConnectionMonitor
	local     core.LocalMedia
	media     core.MediaSession
	isHost    bool
	joined    bool
	closed    bool
	outbox    []core.Envelope

	monitorOnce   sync.Once
	monitorCancel context.CancelFunc

	onState       func(core.NegotiationState)
	onTransport   func(core.TransportState)
	onQuality     func(core.LinkQuality, time.Duration)
	onJoinRequest func(domain.JoinRequest)
	onRejected    func()
	onRemoteMute  func(bool)
}

func NewSession(
	roomID domain.RoomID,
	identity domain.Identity,
	channel core.SignalChannel,
	factory core.MediaFactory,
	source core.MediaSource,
	ice core.ICEProvider,
	cfg SessionConfig,
) *Session {
	s := &Session{
		roomID:   roomID,
		identity: identity,
		channel:  channel,
		factory:  factory,
		source:   source,
		ice:      ice,
		cfg:      cfg,
		arbiter:  NewRoleArbiter(),
		buffer:   NewCandidateBuffer(),
	}
	s.neg = NewNegotiator(roomID, s.buffer, s.gatedSend)
	s.neg.OnStateChange(s.handleNegState)
	if cfg.Gated {
		s.admission = core.AdmissionPending
	}

	// One handler set per session lifetime, registered before Connect.
	channel.Handle(core.EventHost, s.handleHost)
	channel.Handle(core.EventReady, s.handleReady)
	channel.Handle(core.EventAdmitted, s.handleAdmitted)
	channel.Handle(core.EventJoinRejected, s.handleJoinRejected)
	channel.Handle(core.EventRequestJoin, s.handleRequestJoin)
	channel.Handle(core.EventOffer, s.handleOffer)
	channel.Handle(core.EventAnswer, s.handleAnswer)
	channel.Handle(core.EventICECandidate, s.handleCandidate)
	return s
}

// Observer registration. Set before Join; one observer per concern.

func (s *Session) OnStateChange(fn func(core.NegotiationState)) { s.onState = fn }
func (s *Session) OnTransportState(fn func(core.TransportState)) { s.onTransport = fn }
func (s *Session) OnQuality(fn func(core.LinkQuality, time.Duration)) { s.onQuality = fn }
func (s *Session) OnJoinRequest(fn func(domain.JoinRequest)) { s.onJoinRequest = fn }
func (s *Session) OnRejected(fn func()) { s.onRejected = fn }

// OnRemoteMute observes the peer's audio going silent or resuming.
func (s *Session) OnRemoteMute(fn func(muted bool)) { s.onRemoteMute = fn }

// Join runs the start flow: acquire local media, fetch ICE servers,
// build the media session, connect the channel and announce room
// membership. Everything after that is event-driven.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	if s.joined {
		s.mu.Unlock()
		return fmt.Errorf("already joined room %s", s.roomID)
	}
	s.joined = true
	s.mu.Unlock()

	local, err := s.source.AcquireUserMedia(ctx, true, true)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	local.AudioTrack().SetEnabled(s.cfg.AudioEnabled)
	local.VideoTrack().SetEnabled(s.cfg.VideoEnabled)

	servers, err := s.ice.ICEServers(ctx)
	if err != nil {
		local.Stop()
		return fmt.Errorf("fetch ice servers: %w", err)
	}

	media, err := s.factory(servers)
	if err != nil {
		local.Stop()
		return fmt.Errorf("create media session: %w", err)
	}
	if _, err := media.AddTrack(local.AudioTrack()); err != nil {
		local.Stop()
		media.Close()
		return fmt.Errorf("add audio track: %w", err)
	}
	if _, err := media.AddTrack(local.VideoTrack()); err != nil {
		local.Stop()
		media.Close()
		return fmt.Errorf("add video track: %w", err)
	}

	s.mu.Lock()
	s.local = local
	s.media = media
	s.tracks = NewTrackManager(media, local)
	s.monitor = NewConnectionMonitor(string(s.roomID), media, s.cfg.Monitor, func() {
		if err := s.neg.RestartICE(); err != nil {
			log.Error().Err(err).Str("module", "app.session").Msg("ice restart")
		}
	})
	s.monitor.OnQuality(func(q core.LinkQuality, rtt time.Duration) {
		if s.onQuality != nil {
			s.onQuality(q, rtt)
		}
	})
	s.mu.Unlock()

	s.neg.BindMedia(media)
	media.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		data, err := json.Marshal(ci)
		if err != nil {
			return
		}
		if err := s.gatedSend(core.Envelope{
			Type:      core.EventICECandidate,
			RoomID:    s.roomID,
			Candidate: string(data),
		}); err != nil {
			log.Debug().Err(err).Str("module", "app.session").Msg("candidate send")
		}
	})
	media.OnRemoteAudioActivity(func(active bool) {
		if s.onRemoteMute != nil {
			s.onRemoteMute(!active)
		}
	})
	media.OnConnectionState(func(ts core.TransportState) {
		if s.onTransport != nil {
			s.onTransport(ts)
		}
		s.monitor.ReportTransportState(ts)
	})

	if err := s.channel.Connect(ctx, s.identity); err != nil {
		s.teardown()
		return err
	}
	if err := s.channel.Send(core.Envelope{
		Type:     core.EventJoinRoom,
		RoomID:   s.roomID,
		Identity: &s.identity,
		Gated:    s.cfg.Gated,
	}); err != nil {
		s.teardown()
		return err
	}
	if s.cfg.Gated {
		// Knock. If the relay elects us host instead, it discards this.
		if err := s.channel.Send(core.Envelope{
			Type:     core.EventRequestJoin,
			RoomID:   s.roomID,
			Identity: &s.identity,
		}); err != nil {
			s.teardown()
			return err
		}
	}
	log.Info().Str("module", "app.session").Str("room", string(s.roomID)).
		Bool("gated", s.cfg.Gated).Msg("joined room")
	return nil
}

// Leave tears the session down: terminal for the negotiation, releases
// every capture device and closes the channel. Idempotent; any
// description or candidate delivered afterwards is ignored.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.channel.Send(core.Envelope{Type: core.EventLeave, RoomID: s.roomID})
	s.teardown()
	log.Info().Str("module", "app.session").Str("room", string(s.roomID)).Msg("left room")
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	cancel := s.monitorCancel
	tracks := s.tracks
	local := s.local
	media := s.media
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.neg.Close()
	if tracks != nil {
		tracks.StopAll()
	}
	if local != nil {
		local.Stop()
	}
	if media != nil {
		media.Close()
	}
	_ = s.channel.Close()
}

// Accessors.

func (s *Session) State() core.NegotiationState { return s.neg.State() }
func (s *Session) Role() core.Role              { return s.arbiter.Role() }

func (s *Session) Admission() core.Admission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admission
}

func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHost
}

func (s *Session) Quality() core.LinkQuality {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return core.QualityUnknown
	}
	return m.Quality()
}

// Track controls, live post-connection.

func (s *Session) ToggleAudio() (bool, error) {
	tm, err := s.trackManager()
	if err != nil {
		return false, err
	}
	return tm.ToggleAudio(), nil
}

func (s *Session) ToggleVideo() (bool, error) {
	tm, err := s.trackManager()
	if err != nil {
		return false, err
	}
	return tm.ToggleVideo(), nil
}

func (s *Session) StartScreenShare(ctx context.Context) error {
	tm, err := s.trackManager()
	if err != nil {
		return err
	}
	return tm.StartScreenShare(ctx, s.source)
}

func (s *Session) StopScreenShare() error {
	tm, err := s.trackManager()
	if err != nil {
		return err
	}
	return tm.StopScreenShare()
}

func (s *Session) VideoBinding() domain.SourceKind {
	tm, err := s.trackManager()
	if err != nil {
		return domain.SourceCamera
	}
	return tm.Binding(domain.VideoOut)
}

func (s *Session) trackManager() (*TrackManager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrSessionClosed
	}
	if s.tracks == nil {
		return nil, fmt.Errorf("no media yet for room %s", s.roomID)
	}
	return s.tracks, nil
}

// Host-side admission surface.

func (s *Session) PendingRequests() []domain.JoinRequest {
	s.mu.Lock()
	ctrl := s.admCtrl
	s.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.Pending()
}

func (s *Session) Approve(id domain.JoinRequestID) error {
	s.mu.Lock()
	ctrl := s.admCtrl
	s.mu.Unlock()
	if ctrl == nil {
		return ErrNotHost
	}
	return ctrl.Approve(id)
}

func (s *Session) Reject(id domain.JoinRequestID) error {
	s.mu.Lock()
	ctrl := s.admCtrl
	s.mu.Unlock()
	if ctrl == nil {
		return ErrNotHost
	}
	return ctrl.Reject(id)
}

// Signaling handlers. The channel dispatches these sequentially.

func (s *Session) handleHost(core.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.isHost = true
	s.admission = core.AdmissionNotRequired
	if s.admCtrl == nil {
		// Admission messages bypass the negotiation gate: the host is
		// never itself gated.
		s.admCtrl = NewAdmissionController(s.roomID, s.channel.Send)
		if s.onJoinRequest != nil {
			s.admCtrl.OnRequest(s.onJoinRequest)
		}
	}
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Str("room", string(s.roomID)).Msg("elected host")
	s.flushOutbox()
}

func (s *Session) handleReady(env core.Envelope) {
	if s.isClosed() {
		return
	}
	role := core.RoleCallee
	if env.CallerID == s.channel.ID() {
		role = core.RoleCaller
	}
	if !s.arbiter.Assign(role) {
		// Duplicate or conflicting announcement for this epoch.
		return
	}
	s.neg.RoleAssigned(role)
	if role == core.RoleCaller {
		s.maybeOffer()
	}
}

func (s *Session) handleAdmitted(core.Envelope) {
	s.mu.Lock()
	if s.closed || s.admission == core.AdmissionApproved {
		s.mu.Unlock()
		return
	}
	s.admission = core.AdmissionApproved
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Str("room", string(s.roomID)).Msg("admitted")
	s.flushOutbox()
	s.maybeOffer()
}

func (s *Session) handleJoinRejected(core.Envelope) {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	s.admission = core.AdmissionRejected
	fn := s.onRejected
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Str("room", string(s.roomID)).Msg("join rejected")
	if fn != nil {
		fn()
	}
	// Terminal for this attempt: back to the pre-room state.
	s.teardown()
}

func (s *Session) handleRequestJoin(env core.Envelope) {
	s.mu.Lock()
	ctrl := s.admCtrl
	s.mu.Unlock()
	if ctrl == nil || env.Identity == nil {
		log.Debug().Str("module", "app.session").Msg("request-join without host role, dropped")
		return
	}
	ctrl.HandleRequestJoin(env.RequesterID, *env.Identity)
}

func (s *Session) handleOffer(env core.Envelope) {
	if s.isClosed() {
		return
	}
	if err := s.neg.HandleOffer(env); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("offer handling")
	}
}

func (s *Session) handleAnswer(env core.Envelope) {
	if s.isClosed() {
		return
	}
	if err := s.neg.HandleAnswer(env); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("answer handling")
	}
}

func (s *Session) handleCandidate(env core.Envelope) {
	if s.isClosed() {
		return
	}
	if err := s.neg.HandleCandidate(env); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("candidate handling")
	}
}

// maybeOffer starts the caller's offer cycle once both conditions hold:
// caller role assigned and admission satisfied. The negotiator's own
// guard makes a second call a no-op.
func (s *Session) maybeOffer() {
	s.mu.Lock()
	ok := s.admission.Satisfied()
	s.mu.Unlock()
	if !ok || s.arbiter.Role() != core.RoleCaller {
		return
	}
	if err := s.neg.StartOffer(); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("start offer")
	}
}

// gatedSend is the single outbound choke point for negotiation traffic.
// While admission is pending, offers/answers/candidates are held back in
// order; they go out the moment admission is approved. Everything else
// passes straight through.
func (s *Session) gatedSend(env core.Envelope) error {
	switch env.Type {
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return core.ErrSessionClosed
		}
		if !s.admission.Satisfied() {
			s.outbox = append(s.outbox, env)
			s.mu.Unlock()
			log.Debug().Str("module", "app.session").Str("type", string(env.Type)).Msg("held until admitted")
			return nil
		}
		s.mu.Unlock()
	}
	return s.channel.Send(env)
}

func (s *Session) flushOutbox() {
	s.mu.Lock()
	if !s.admission.Satisfied() || len(s.outbox) == 0 {
		s.mu.Unlock()
		return
	}
	held := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, env := range held {
		if err := s.channel.Send(env); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("type", string(env.Type)).Msg("flush after admission")
		}
	}
}

// handleNegState reacts to machine transitions: the first Connected
// starts the quality monitor for the rest of the session.
func (s *Session) handleNegState(st core.NegotiationState) {
	if st == core.StateConnected {
		s.monitorOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.mu.Lock()
			s.monitorCancel = cancel
			m := s.monitor
			s.mu.Unlock()
			if m != nil {
				go m.Run(ctx)
			}
		})
	}
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
