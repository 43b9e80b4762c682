package domain

import (
	"time"

	"github.com/google/uuid"
)

type JoinRequestID string

// JoinRequest is a guest's pending intent to join a gated room.
// At most one outstanding request exists per requester; it is destroyed
// when the host approves or rejects it.
type JoinRequest struct {
	ID          JoinRequestID
	RequesterID string
	Identity    Identity
	ReceivedAt  time.Time
}

func NewJoinRequest(requesterID string, identity Identity) *JoinRequest {
	return &JoinRequest{
		ID:          JoinRequestID(uuid.NewString()),
		RequesterID: requesterID,
		Identity:    identity,
		ReceivedAt:  time.Now(),
	}
}
