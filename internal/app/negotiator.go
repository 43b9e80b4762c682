package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

// Negotiator sequences asynchronous, unordered signaling events into a
// working media session. Every transition is guarded on the current
// state, so redelivered or late messages degrade to logged no-ops
// instead of corrupting the negotiation.
type Negotiator struct {
	mu         sync.Mutex
	state      core.NegotiationState
	role       core.Role
	roomID     domain.RoomID
	media      core.MediaSession
	buffer     *CandidateBuffer
	send       func(core.Envelope) error
	localOffer bool
	onState    func(core.NegotiationState)
}

func NewNegotiator(roomID domain.RoomID, buffer *CandidateBuffer, send func(core.Envelope) error) *Negotiator {
	return &Negotiator{
		state:  core.StateIdle,
		roomID: roomID,
		buffer: buffer,
		send:   send,
	}
}

// BindMedia attaches the media session for this negotiation. Must be
// called before any offer/answer handling.
func (n *Negotiator) BindMedia(m core.MediaSession) {
	n.mu.Lock()
	n.media = m
	n.mu.Unlock()
}

// OnStateChange registers a single observer for state transitions.
func (n *Negotiator) OnStateChange(fn func(core.NegotiationState)) {
	n.mu.Lock()
	n.onState = fn
	n.mu.Unlock()
}

func (n *Negotiator) State() core.NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// setState must be called with n.mu held.
func (n *Negotiator) setState(s core.NegotiationState) {
	if n.state == s {
		return
	}
	log.Debug().Str("module", "app.negotiator").
		Str("from", n.state.String()).Str("to", s.String()).Msg("transition")
	n.state = s
	if n.onState != nil {
		n.onState(s)
	}
}

// RoleAssigned moves Idle to RoleKnown. The callee additionally advances
// to AwaitingOffer; the caller stays in RoleKnown until StartOffer.
func (n *Negotiator) RoleAssigned(role core.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.role = role
	if n.state != core.StateIdle {
		return
	}
	n.setState(core.StateRoleKnown)
	if role == core.RoleCallee {
		n.setState(core.StateAwaitingOffer)
	}
}

// StartOffer runs the caller's offer cycle: create the offer, set it as
// the local description, send it. Valid only from RoleKnown, so a
// duplicate role announcement cannot produce a second offer.
func (n *Negotiator) StartOffer() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != core.StateRoleKnown {
		log.Debug().Str("module", "app.negotiator").Str("state", n.state.String()).Msg("offer suppressed")
		return nil
	}
	if n.media == nil {
		return fmt.Errorf("start offer: no media session bound")
	}
	n.setState(core.StateOffering)

	offer, err := n.media.CreateOffer(false)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.media.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	n.localOffer = true
	n.setState(core.StateAwaitingAnswer)
	return n.send(core.Envelope{Type: core.EventOffer, RoomID: n.roomID, SDP: offer.SDP})
}

// HandleOffer applies a remote offer and responds with an answer. Valid
// from Idle, RoleKnown and AwaitingOffer; also from Connected, which is
// how the peer's ICE-restart offer re-enters the machine.
//
// Reconnecting gets a role tie-break: when both sides detect the same
// outage they both send restart offers, and without the tie-break each
// would drop the other's offer and wait forever. The callee abandons its
// own restart offer and answers; the caller keeps waiting for an answer.
func (n *Negotiator) HandleOffer(env core.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case core.StateIdle, core.StateRoleKnown, core.StateAwaitingOffer, core.StateConnected:
	case core.StateReconnecting:
		if n.role != core.RoleCallee {
			log.Debug().Str("module", "app.negotiator").Msg("glare offer dropped, waiting for answer")
			return nil
		}
		log.Info().Str("module", "app.negotiator").Str("room", string(n.roomID)).
			Msg("restart glare, yielding to the caller's offer")
		n.localOffer = false
	default:
		log.Debug().Str("module", "app.negotiator").Str("state", n.state.String()).Msg("stale offer dropped")
		return nil
	}
	if n.media == nil {
		log.Debug().Str("module", "app.negotiator").Msg("offer before media bound, dropped")
		return nil
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}
	if err := n.media.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	n.flushCandidates()

	answer, err := n.media.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := n.media.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	n.setState(core.StateAnswering)
	if err := n.send(core.Envelope{Type: core.EventAnswer, RoomID: n.roomID, SDP: answer.SDP}); err != nil {
		return err
	}
	n.setState(core.StateConnected)
	return nil
}

// HandleAnswer applies a remote answer. Guarded: accepted only while an
// offer of ours is outstanding (AwaitingAnswer, or Reconnecting during an
// ICE restart). Anything else is a stale or duplicate answer and is
// dropped without touching the media session.
func (n *Negotiator) HandleAnswer(env core.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if (n.state != core.StateAwaitingAnswer && n.state != core.StateReconnecting) || !n.localOffer {
		log.Debug().Str("module", "app.negotiator").Str("state", n.state.String()).Msg("stale answer dropped")
		return nil
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP}
	if err := n.media.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	n.localOffer = false
	n.flushCandidates()
	n.setState(core.StateConnected)
	return nil
}

// HandleCandidate routes a remote candidate: buffered while the remote
// description is unknown, handed straight to the media engine afterwards.
func (n *Negotiator) HandleCandidate(env core.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == core.StateClosed {
		return nil
	}
	if env.RoomID != "" && env.RoomID != n.roomID {
		log.Debug().Str("module", "app.negotiator").Str("room", string(env.RoomID)).Msg("candidate for unknown room dropped")
		return nil
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(env.Candidate), &init); err != nil {
		log.Debug().Err(err).Str("module", "app.negotiator").Msg("malformed candidate dropped")
		return nil
	}

	if n.media == nil || !n.media.HasRemoteDescription() {
		n.buffer.Hold(init)
		return nil
	}
	if err := n.media.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// RestartICE runs a recovery offer cycle with fresh network paths. It
// replaces, rather than cancels, the stale negotiation: the machine moves
// Connected -> Reconnecting and returns to Connected on a fresh answer.
func (n *Negotiator) RestartICE() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != core.StateConnected {
		log.Debug().Str("module", "app.negotiator").Str("state", n.state.String()).Msg("ice restart suppressed")
		return nil
	}
	n.setState(core.StateReconnecting)

	offer, err := n.media.CreateOffer(true)
	if err != nil {
		return fmt.Errorf("create restart offer: %w", err)
	}
	if err := n.media.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local restart offer: %w", err)
	}
	n.localOffer = true
	log.Info().Str("module", "app.negotiator").Str("room", string(n.roomID)).Msg("ice restart offer sent")
	return n.send(core.Envelope{Type: core.EventOffer, RoomID: n.roomID, SDP: offer.SDP})
}

// Close moves the machine to its terminal state. No transitions leave
// Closed; descriptions and candidates delivered afterwards are ignored.
func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == core.StateClosed {
		return
	}
	n.setState(core.StateClosed)
}

// flushCandidates must be called with n.mu held, immediately after the
// remote description becomes known.
func (n *Negotiator) flushCandidates() {
	for _, c := range n.buffer.Drain() {
		if err := n.media.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "app.negotiator").Msg("buffered candidate rejected")
		}
	}
}
