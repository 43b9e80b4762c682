package core

import (
	"context"

	"github.com/peercall/peercall/internal/domain"
)

// EventType identifies the kind of signaling message.
type EventType string

const (
	EventJoinRoom     EventType = "join-room"
	EventHost         EventType = "host"
	EventReady        EventType = "ready"
	EventRequestJoin  EventType = "request-join"
	EventAdmitUser    EventType = "admit-user"
	EventAdmitted     EventType = "admitted"
	EventJoinRejected EventType = "join-rejected"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
	EventLeave        EventType = "leave"
)

// Envelope is the JSON message exchanged over the signaling channel.
// SDP blobs and candidates are opaque to the core; Candidate carries a
// JSON-encoded ICECandidateInit.
type Envelope struct {
	Type        EventType        `json:"type"`
	RoomID      domain.RoomID    `json:"roomId,omitempty"`
	SDP         string           `json:"sdp,omitempty"`
	Candidate   string           `json:"candidate,omitempty"`
	CallerID    string           `json:"callerId,omitempty"`
	TargetID    string           `json:"targetId,omitempty"`
	RequesterID string           `json:"requesterId,omitempty"`
	Identity    *domain.Identity `json:"identity,omitempty"`
	Gated       bool             `json:"gated,omitempty"`
}

// SignalChannel is a bidirectional, reconnectable message transport between
// a session and its peer via the signaling relay. One live connection per
// session; reconnect is caller-initiated, never silent.
//
// Handlers are registered once, before Connect, for the session lifetime.
// The channel dispatches inbound events sequentially from a single
// goroutine, so handlers never run concurrently with each other.
type SignalChannel interface {
	// ID is the channel's participant identifier, used by the relay to
	// address role and admission messages.
	ID() string
	// Connect establishes the transport and attaches the caller's identity
	// to it. Returns ErrChannelUnavailable on failure; no internal retry.
	Connect(ctx context.Context, identity domain.Identity) error
	Send(Envelope) error
	Handle(EventType, func(Envelope))
	Close() error
}
