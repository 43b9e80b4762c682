package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

var ErrUnknownRequest = errors.New("unknown join request")

// AdmissionController is the host-side gate over who may join. Requests
// are kept in arrival order, at most one outstanding per requester, and
// each is resolved exactly once: approved or rejected, never both.
type AdmissionController struct {
	mu          sync.Mutex
	roomID      domain.RoomID
	send        func(core.Envelope) error
	order       []domain.JoinRequestID
	byID        map[domain.JoinRequestID]*domain.JoinRequest
	byRequester map[string]domain.JoinRequestID
	onRequest   func(domain.JoinRequest)
}

func NewAdmissionController(roomID domain.RoomID, send func(core.Envelope) error) *AdmissionController {
	return &AdmissionController{
		roomID:      roomID,
		send:        send,
		byID:        make(map[domain.JoinRequestID]*domain.JoinRequest),
		byRequester: make(map[string]domain.JoinRequestID),
	}
}

// OnRequest registers the callback surfacing a new request for a human
// host decision.
func (c *AdmissionController) OnRequest(fn func(domain.JoinRequest)) {
	c.mu.Lock()
	c.onRequest = fn
	c.mu.Unlock()
}

// HandleRequestJoin enqueues a guest's join request. A redelivered
// request from the same requester replaces nothing and surfaces nothing.
func (c *AdmissionController) HandleRequestJoin(requesterID string, identity domain.Identity) {
	c.mu.Lock()
	if _, dup := c.byRequester[requesterID]; dup {
		c.mu.Unlock()
		log.Debug().Str("module", "app.admission").Str("requester", requesterID).Msg("duplicate join request ignored")
		return
	}
	req := domain.NewJoinRequest(requesterID, identity)
	c.order = append(c.order, req.ID)
	c.byID[req.ID] = req
	c.byRequester[requesterID] = req.ID
	fn := c.onRequest
	c.mu.Unlock()

	log.Info().Str("module", "app.admission").
		Str("requester", requesterID).Str("name", identity.DisplayName).
		Msg("join requested")
	if fn != nil {
		fn(*req)
	}
}

// Approve admits the requester and removes the request.
func (c *AdmissionController) Approve(id domain.JoinRequestID) error {
	req, err := c.take(id)
	if err != nil {
		return err
	}
	log.Info().Str("module", "app.admission").Str("requester", req.RequesterID).Msg("admitted")
	return c.send(core.Envelope{
		Type:     core.EventAdmitUser,
		RoomID:   c.roomID,
		TargetID: req.RequesterID,
	})
}

// Reject turns the requester away and removes the request.
func (c *AdmissionController) Reject(id domain.JoinRequestID) error {
	req, err := c.take(id)
	if err != nil {
		return err
	}
	log.Info().Str("module", "app.admission").Str("requester", req.RequesterID).Msg("rejected")
	return c.send(core.Envelope{
		Type:     core.EventJoinRejected,
		RoomID:   c.roomID,
		TargetID: req.RequesterID,
	})
}

// Pending returns outstanding requests in arrival order.
func (c *AdmissionController) Pending() []domain.JoinRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.JoinRequest, 0, len(c.order))
	for _, id := range c.order {
		if req, ok := c.byID[id]; ok {
			out = append(out, *req)
		}
	}
	return out
}

// take removes and returns the request under lock, so a request can only
// ever be resolved once.
func (c *AdmissionController) take(id domain.JoinRequestID) (*domain.JoinRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.byID[id]
	if !ok {
		return nil, ErrUnknownRequest
	}
	delete(c.byID, id)
	delete(c.byRequester, req.RequesterID)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return req, nil
}
