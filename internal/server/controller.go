package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

var errConnClosed = errors.New("connection closed")

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	reg *Registry
}

func NewController(reg *Registry) *Controller {
	return &Controller{reg: reg}
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	cid := c.Query("cid")
	if cid == "" {
		cid = c.GetString("client_token")
	}
	log.Info().Str("module", "server").Str("cid", cid).Msg("new WS connection")

	var identity domain.Identity
	if raw := c.GetHeader("X-Peercall-Identity"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &identity); err != nil {
			log.Warn().Err(err).Str("module", "server").Str("cid", cid).Msg("bad identity header")
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	p := &participant{id: cid, identity: identity, conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, p)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "server").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "server").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, p *participant) {
	var roomID domain.RoomID
	defer func() {
		log.Info().Str("module", "server").Str("cid", p.id).Msg("readPump closing")
		ctl.disconnect(roomID, p)
		cancel()
		p.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.conn.ReadMessage()
			if err != nil {
				return
			}
			var env core.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Error().Err(err).Str("module", "server").Msg("bad json")
				continue
			}
			if env.RoomID != "" {
				roomID = env.RoomID
			}
			ctl.handle(roomID, p, env)
		}
	}
}

func (ctl *Controller) handle(roomID domain.RoomID, p *participant, env core.Envelope) {
	switch env.Type {
	case core.EventJoinRoom:
		ctl.handleJoinRoom(p, env)
	case core.EventRequestJoin:
		ctl.handleRequestJoin(roomID, p)
	case core.EventAdmitUser:
		ctl.handleAdmitUser(roomID, p, env)
	case core.EventJoinRejected:
		ctl.handleJoinRejected(roomID, p, env)
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		ctl.forwardToPeer(roomID, p, env)
	case core.EventLeave:
		ctl.disconnect(roomID, p)
	default:
		log.Warn().Str("module", "server").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (ctl *Controller) handleJoinRoom(p *participant, env core.Envelope) {
	where, _ := ctl.reg.Seat(env.RoomID, p, env.Gated)
	switch where {
	case seatHost:
		log.Info().Str("module", "server").Str("room", string(env.RoomID)).Str("cid", p.id).Bool("gated", env.Gated).Msg("host seated")
		ctl.sendEnvelope(p.conn, core.Envelope{Type: core.EventHost, RoomID: env.RoomID})
	case seatGuest:
		log.Info().Str("module", "server").Str("room", string(env.RoomID)).Str("cid", p.id).Msg("guest seated")
		// Gated rooms hold the pairing back until the host admits. The
		// gating is the room's, fixed by the host; the guest may not know
		// it is joining a gated room, so the relay knocks on its behalf.
		// The host side deduplicates if the guest also knocks itself.
		if ctl.reg.Gated(env.RoomID) {
			ctl.knock(env.RoomID, p)
		} else {
			ctl.announceReady(env.RoomID)
		}
	case seatFull:
		log.Info().Str("module", "server").Str("room", string(env.RoomID)).Str("cid", p.id).Msg("room full")
		ctl.sendEnvelope(p.conn, core.Envelope{Type: core.EventJoinRejected, RoomID: env.RoomID})
	}
}

func (ctl *Controller) handleRequestJoin(roomID domain.RoomID, p *participant) {
	// The elected host knocks too when it expects a gated room; drop it.
	if ctl.reg.IsHost(roomID, p.id) {
		return
	}
	ctl.knock(roomID, p)
}

func (ctl *Controller) knock(roomID domain.RoomID, p *participant) {
	if !ctl.reg.FirstKnock(roomID, p.id) {
		return
	}
	host := ctl.reg.Host(roomID)
	if host == nil {
		return
	}
	ctl.sendEnvelope(host.conn, core.Envelope{
		Type:        core.EventRequestJoin,
		RoomID:      roomID,
		RequesterID: p.id,
		Identity:    &p.identity,
	})
}

func (ctl *Controller) handleAdmitUser(roomID domain.RoomID, p *participant, env core.Envelope) {
	if !ctl.reg.IsHost(roomID, p.id) {
		return
	}
	guest := ctl.reg.Guest(roomID, env.TargetID)
	if guest == nil {
		log.Warn().Str("module", "server").Str("room", string(roomID)).Str("target", env.TargetID).Msg("admit for unknown guest")
		return
	}
	ctl.sendEnvelope(guest.conn, core.Envelope{Type: core.EventAdmitted, RoomID: roomID})
	ctl.announceReady(roomID)
}

func (ctl *Controller) handleJoinRejected(roomID domain.RoomID, p *participant, env core.Envelope) {
	if !ctl.reg.IsHost(roomID, p.id) {
		return
	}
	guest := ctl.reg.Guest(roomID, env.TargetID)
	if guest == nil {
		return
	}
	ctl.sendEnvelope(guest.conn, core.Envelope{Type: core.EventJoinRejected, RoomID: roomID})
	ctl.reg.Drop(roomID, guest.id)
}

// announceReady tells both seats who the caller is. The host always
// takes the caller role.
func (ctl *Controller) announceReady(roomID domain.RoomID) {
	host := ctl.reg.Host(roomID)
	if host == nil {
		return
	}
	env := core.Envelope{Type: core.EventReady, RoomID: roomID, CallerID: host.id}
	ctl.sendEnvelope(host.conn, env)
	if peer := ctl.reg.Peer(roomID, host.id); peer != nil {
		ctl.sendEnvelope(peer.conn, env)
	}
}

func (ctl *Controller) forwardToPeer(roomID domain.RoomID, p *participant, env core.Envelope) {
	peer := ctl.reg.Peer(roomID, p.id)
	if peer == nil {
		log.Debug().Str("module", "server").Str("room", string(roomID)).Str("type", string(env.Type)).Msg("no peer to forward to")
		return
	}
	env.RoomID = roomID
	ctl.sendEnvelope(peer.conn, env)
}

func (ctl *Controller) disconnect(roomID domain.RoomID, p *participant) {
	if roomID == "" {
		return
	}
	if peer := ctl.reg.Drop(roomID, p.id); peer != nil {
		ctl.sendEnvelope(peer.conn, core.Envelope{Type: core.EventLeave, RoomID: roomID})
	}
}

func (ctl *Controller) sendEnvelope(c *wsConn, env core.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("marshal envelope")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("type", string(env.Type)).Msg("send dropped")
	}
}
