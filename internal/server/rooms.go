// Package server is the development signaling relay: it pairs two
// participants per room, elects the host, and forwards negotiation
// traffic between them. It holds no media and never inspects SDP.
package server

import (
	"sync"

	"github.com/peercall/peercall/internal/domain"
)

type participant struct {
	id       string
	identity domain.Identity
	conn     *wsConn
}

// room is a two-seat pairing over a domain.Room. The first joiner is the
// host; the second seat is taken once and stays taken until that
// participant leaves.
type room struct {
	domain.Room
	host         *participant
	guest        *participant
	guestKnocked bool
}

type seat int

const (
	seatHost seat = iota
	seatGuest
	seatFull
)

type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// Seat places the participant in the room. The first joiner becomes host
// and fixes the room's gating; later joiners take the guest seat or are
// turned away.
func (reg *Registry) Seat(id domain.RoomID, p *participant, gated bool) (seat, *room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok {
		r = &room{Room: domain.Room{ID: id, Gated: gated}, host: p}
		reg.rooms[id] = r
		return seatHost, r
	}
	if r.host == nil {
		r.host = p
		r.Gated = gated
		return seatHost, r
	}
	if r.guest == nil {
		r.guest = p
		r.guestKnocked = false
		return seatGuest, r
	}
	return seatFull, r
}

// FirstKnock records the guest's knock, reporting whether it is the
// first one for this seating. The relay knocks on the guest's behalf and
// the guest may knock itself; only one reaches the host.
func (reg *Registry) FirstKnock(id domain.RoomID, pid string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok || r.guest == nil || r.guest.id != pid || r.guestKnocked {
		return false
	}
	r.guestKnocked = true
	return true
}

// Peer returns the other seat's participant, if occupied.
func (reg *Registry) Peer(id domain.RoomID, pid string) *participant {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok {
		return nil
	}
	if r.host != nil && r.host.id == pid {
		return r.guest
	}
	if r.guest != nil && r.guest.id == pid {
		return r.host
	}
	return nil
}

// Host returns the room's host, if any.
func (reg *Registry) Host(id domain.RoomID) *participant {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r.host
	}
	return nil
}

// Guest returns the room's guest when it matches pid.
func (reg *Registry) Guest(id domain.RoomID, pid string) *participant {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok || r.guest == nil || r.guest.id != pid {
		return nil
	}
	return r.guest
}

// IsHost reports whether pid holds the room's host seat.
func (reg *Registry) IsHost(id domain.RoomID, pid string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	return ok && r.host != nil && r.host.id == pid
}

// Gated reports the room's gating, fixed by the first joiner.
func (reg *Registry) Gated(id domain.RoomID) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	return ok && r.Gated
}

// Drop removes the participant and returns the peer left behind, if any.
// A room whose host left is deleted; the remaining guest has to rejoin.
func (reg *Registry) Drop(id domain.RoomID, pid string) *participant {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	if !ok {
		return nil
	}
	switch {
	case r.host != nil && r.host.id == pid:
		delete(reg.rooms, id)
		return r.guest
	case r.guest != nil && r.guest.id == pid:
		r.guest = nil
		r.guestKnocked = false
		return r.host
	default:
		return nil
	}
}
