package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peercall/peercall/internal/config"
	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

func newTestRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := &config.Config{
		Mode:     "release",
		STUNURLs: []string{"stun:stun.example.org:3478"},
		Secret:   "test-secret",
	}
	srv := httptest.NewServer(SetupRouter(context.Background(), cfg))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	return srv, wsURL
}

func dialRelay(t *testing.T, wsURL, cid, name string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	idJSON, err := json.Marshal(domain.Identity{DisplayName: name})
	require.NoError(t, err)
	header.Set("X-Peercall-Identity", string(idJSON))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?cid="+cid, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env core.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) core.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env core.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestRelayElectsHostAndForwardsNegotiation(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})

	readyA := readEnvelope(t, a)
	readyB := readEnvelope(t, b)
	require.Equal(t, core.EventReady, readyA.Type)
	require.Equal(t, core.EventReady, readyB.Type)
	assert.Equal(t, "peer-a", readyA.CallerID, "host is the caller")
	assert.Equal(t, "peer-a", readyB.CallerID)

	sendEnvelope(t, a, core.Envelope{Type: core.EventOffer, RoomID: "ab12cd", SDP: "v=0 offer"})
	offer := readEnvelope(t, b)
	require.Equal(t, core.EventOffer, offer.Type)
	assert.Equal(t, "v=0 offer", offer.SDP)

	sendEnvelope(t, b, core.Envelope{Type: core.EventAnswer, RoomID: "ab12cd", SDP: "v=0 answer"})
	answer := readEnvelope(t, a)
	require.Equal(t, core.EventAnswer, answer.Type)
	assert.Equal(t, "v=0 answer", answer.SDP)

	sendEnvelope(t, b, core.Envelope{Type: core.EventICECandidate, RoomID: "ab12cd", Candidate: `{"candidate":"c0"}`})
	cand := readEnvelope(t, a)
	require.Equal(t, core.EventICECandidate, cand.Type)
	assert.Equal(t, `{"candidate":"c0"}`, cand.Candidate)
}

func TestRelayGatedRoomHoldsPairingUntilAdmit(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)
	// The host knocks too, not knowing it was elected; the relay drops it.
	sendEnvelope(t, a, core.Envelope{Type: core.EventRequestJoin, RoomID: "ab12cd"})

	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	sendEnvelope(t, b, core.Envelope{Type: core.EventRequestJoin, RoomID: "ab12cd"})

	knock := readEnvelope(t, a)
	require.Equal(t, core.EventRequestJoin, knock.Type, "host's own knock is discarded, guest's arrives")
	assert.Equal(t, "peer-b", knock.RequesterID)
	require.NotNil(t, knock.Identity)
	assert.Equal(t, "Bob", knock.Identity.DisplayName)

	sendEnvelope(t, a, core.Envelope{Type: core.EventAdmitUser, RoomID: "ab12cd", TargetID: "peer-b"})

	admitted := readEnvelope(t, b)
	require.Equal(t, core.EventAdmitted, admitted.Type)
	readyB := readEnvelope(t, b)
	require.Equal(t, core.EventReady, readyB.Type)
	assert.Equal(t, "peer-a", readyB.CallerID)
	require.Equal(t, core.EventReady, readEnvelope(t, a).Type)
}

func TestRelayKnocksForGuestUnawareOfGating(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	// The guest joined with a plain link and never sends request-join;
	// the room's gating is the host's call, so the relay knocks for it.
	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})

	knock := readEnvelope(t, a)
	require.Equal(t, core.EventRequestJoin, knock.Type)
	assert.Equal(t, "peer-b", knock.RequesterID)
	require.NotNil(t, knock.Identity)
	assert.Equal(t, "Bob", knock.Identity.DisplayName)

	sendEnvelope(t, a, core.Envelope{Type: core.EventAdmitUser, RoomID: "ab12cd", TargetID: "peer-b"})
	require.Equal(t, core.EventAdmitted, readEnvelope(t, b).Type)
	require.Equal(t, core.EventReady, readEnvelope(t, b).Type)
	require.Equal(t, core.EventReady, readEnvelope(t, a).Type)
}

func TestRelayForwardsOneKnockPerSeating(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	// The guest knows the room is gated and knocks itself too; the host
	// still sees a single request.
	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	sendEnvelope(t, b, core.Envelope{Type: core.EventRequestJoin, RoomID: "ab12cd"})

	require.Equal(t, core.EventRequestJoin, readEnvelope(t, a).Type)
	sendEnvelope(t, a, core.Envelope{Type: core.EventAdmitUser, RoomID: "ab12cd", TargetID: "peer-b"})
	// Next message to the host is the pairing, not a second knock.
	require.Equal(t, core.EventReady, readEnvelope(t, a).Type)
}

func TestRelayRejectedGuestIsTurnedAway(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	sendEnvelope(t, b, core.Envelope{Type: core.EventRequestJoin, RoomID: "ab12cd"})
	require.Equal(t, core.EventRequestJoin, readEnvelope(t, a).Type)

	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRejected, RoomID: "ab12cd", TargetID: "peer-b"})
	require.Equal(t, core.EventJoinRejected, readEnvelope(t, b).Type)

	// The guest seat is free again for the next knocker.
	c := dialRelay(t, wsURL, "peer-c", "Cleo")
	sendEnvelope(t, c, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd", Gated: true})
	sendEnvelope(t, c, core.Envelope{Type: core.EventRequestJoin, RoomID: "ab12cd"})
	knock := readEnvelope(t, a)
	require.Equal(t, core.EventRequestJoin, knock.Type)
	assert.Equal(t, "peer-c", knock.RequesterID)
}

func TestRelayTurnsAwayThirdJoiner(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventReady, readEnvelope(t, b).Type)

	c := dialRelay(t, wsURL, "peer-c", "Cleo")
	sendEnvelope(t, c, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventJoinRejected, readEnvelope(t, c).Type)
}

func TestRelayForwardsLeaveToPeer(t *testing.T) {
	_, wsURL := newTestRelay(t)

	a := dialRelay(t, wsURL, "peer-a", "Alice")
	sendEnvelope(t, a, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventHost, readEnvelope(t, a).Type)

	b := dialRelay(t, wsURL, "peer-b", "Bob")
	sendEnvelope(t, b, core.Envelope{Type: core.EventJoinRoom, RoomID: "ab12cd"})
	require.Equal(t, core.EventReady, readEnvelope(t, a).Type)
	require.Equal(t, core.EventReady, readEnvelope(t, b).Type)

	sendEnvelope(t, b, core.Envelope{Type: core.EventLeave, RoomID: "ab12cd"})
	require.Equal(t, core.EventLeave, readEnvelope(t, a).Type)
}

func TestICEEndpointServesConfiguredServers(t *testing.T) {
	srv, _ := newTestRelay(t)

	resp, err := http.Get(srv.URL + "/api/ice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, payload.ICEServers[0].URLs)
}
