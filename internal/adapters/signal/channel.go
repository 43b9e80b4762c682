// Package signal provides the WebSocket client side of the signaling
// channel: one connection per session, owned by the session.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 32
)

// Channel is a core.SignalChannel over a gorilla WebSocket connection.
// Inbound events are dispatched sequentially from the read pump, so
// handlers never race each other.
type Channel struct {
	url string
	id  string

	mu       sync.RWMutex
	conn     *websocket.Conn
	send     chan core.Envelope
	handlers map[core.EventType]func(core.Envelope)
	closed   bool
	started  bool
}

func NewChannel(url string) *Channel {
	return &Channel{
		url:      url,
		id:       uuid.NewString(),
		send:     make(chan core.Envelope, sendBacklog),
		handlers: make(map[core.EventType]func(core.Envelope)),
	}
}

func (c *Channel) ID() string { return c.id }

// Handle registers the handler for one event type. Must be called before
// Connect; the handler set is fixed for the channel lifetime.
func (c *Channel) Handle(t core.EventType, fn func(core.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		log.Warn().Str("module", "signal.channel").Str("type", string(t)).Msg("handler registered after connect, ignored")
		return
	}
	c.handlers[t] = fn
}

// Connect dials the relay and attaches the caller's identity to the
// transport. One live connection per channel; a second Connect fails.
func (c *Channel) Connect(ctx context.Context, identity domain.Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelUnavailable
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: already connected", core.ErrChannelUnavailable)
	}
	c.mu.Unlock()

	header := http.Header{}
	idJSON, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	header.Set("X-Peercall-Identity", string(idJSON))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url+"?cid="+c.id, header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", core.ErrChannelUnavailable, c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.started = true
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "signal.channel").Str("cid", c.id).Str("url", c.url).Msg("connected")
	return nil
}

// Send queues an envelope for the write pump. A full backlog is reported
// as backpressure rather than blocking the caller.
func (c *Channel) Send(env core.Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || !c.started {
		return core.ErrChannelUnavailable
	}
	select {
	case c.send <- env:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.send)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) writePump() {
	for env := range c.send {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal.channel").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Error().Err(err).Str("module", "signal.channel").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump() {
	for {
		var env core.Envelope
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Error().Err(err).Str("module", "signal.channel").Str("cid", c.id).Msg("readPump read error")
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env core.Envelope) {
	c.mu.RLock()
	fn := c.handlers[env.Type]
	c.mu.RUnlock()
	if fn == nil {
		log.Debug().Str("module", "signal.channel").Str("type", string(env.Type)).Msg("unhandled event")
		return
	}
	fn(env)
}
