package domain

type RoomID string

// Room is a two-party meeting room. Gated rooms require the host to
// admit each guest before signaling may proceed.
type Room struct {
	ID    RoomID
	Gated bool
}
