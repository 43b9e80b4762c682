package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

func newTestAdmission() (*AdmissionController, *[]core.Envelope) {
	var sent []core.Envelope
	c := NewAdmissionController("ab12cd", func(env core.Envelope) error {
		sent = append(sent, env)
		return nil
	})
	return c, &sent
}

func TestAdmissionApproveSendsAdmitAndRemovesRequest(t *testing.T) {
	c, sent := newTestAdmission()
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})

	pending := c.Pending()
	require.Len(t, pending, 1)
	require.NoError(t, c.Approve(pending[0].ID))

	require.Len(t, *sent, 1)
	assert.Equal(t, core.EventAdmitUser, (*sent)[0].Type)
	assert.Equal(t, "guest-1", (*sent)[0].TargetID)
	assert.Empty(t, c.Pending())
}

func TestAdmissionRejectSendsRejectionAndRemovesRequest(t *testing.T) {
	c, sent := newTestAdmission()
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})

	pending := c.Pending()
	require.NoError(t, c.Reject(pending[0].ID))

	require.Len(t, *sent, 1)
	assert.Equal(t, core.EventJoinRejected, (*sent)[0].Type)
	assert.Empty(t, c.Pending())
}

func TestAdmissionResolvesEachRequestExactlyOnce(t *testing.T) {
	c, sent := newTestAdmission()
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})
	id := c.Pending()[0].ID

	require.NoError(t, c.Approve(id))
	assert.ErrorIs(t, c.Approve(id), ErrUnknownRequest)
	assert.ErrorIs(t, c.Reject(id), ErrUnknownRequest)
	assert.Len(t, *sent, 1, "only one admit message")
}

func TestAdmissionDeduplicatesRequester(t *testing.T) {
	c, _ := newTestAdmission()
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})

	assert.Len(t, c.Pending(), 1, "at most one outstanding request per requester")
}

func TestAdmissionKeepsArrivalOrder(t *testing.T) {
	c, _ := newTestAdmission()
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})
	c.HandleRequestJoin("guest-2", domain.Identity{DisplayName: "Bob"})
	c.HandleRequestJoin("guest-3", domain.Identity{DisplayName: "Cyd"})

	require.NoError(t, c.Reject(c.Pending()[1].ID))

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "guest-1", pending[0].RequesterID)
	assert.Equal(t, "guest-3", pending[1].RequesterID)
}

func TestAdmissionSurfacesRequestToHost(t *testing.T) {
	c, _ := newTestAdmission()
	var surfaced []domain.JoinRequest
	c.OnRequest(func(req domain.JoinRequest) { surfaced = append(surfaced, req) })

	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada", Email: "ada@example.com"})
	c.HandleRequestJoin("guest-1", domain.Identity{DisplayName: "Ada"})

	require.Len(t, surfaced, 1, "duplicate must not re-surface")
	assert.Equal(t, "ada@example.com", surfaced[0].Identity.Email)
}
