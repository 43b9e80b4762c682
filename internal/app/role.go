package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
)

// RoleArbiter interprets authoritative role announcements from the
// signaling relay. It never elects a role locally; it only records the
// announced one, at most once per negotiation epoch. Duplicate
// announcements for the same epoch are no-ops, which is what keeps a
// redelivered "ready" from producing a second offer.
type RoleArbiter struct {
	mu    sync.Mutex
	role  core.Role
	epoch int
}

func NewRoleArbiter() *RoleArbiter {
	return &RoleArbiter{}
}

// Assign records the announced role. It returns true only on the first
// assignment of the current epoch; duplicates and conflicting
// announcements return false.
func (a *RoleArbiter) Assign(role core.Role) bool {
	if role == core.RoleUnassigned {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.role != core.RoleUnassigned {
		if a.role != role {
			log.Warn().Str("module", "app.role").
				Str("have", a.role.String()).Str("got", role.String()).
				Int("epoch", a.epoch).Msg("conflicting role announcement ignored")
		}
		return false
	}
	a.role = role
	log.Info().Str("module", "app.role").Str("role", role.String()).Int("epoch", a.epoch).Msg("role assigned")
	return true
}

func (a *RoleArbiter) Role() core.Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

// Reset begins a new negotiation epoch. Only valid once the previous
// negotiation has reached its terminal state.
func (a *RoleArbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.role = core.RoleUnassigned
	a.epoch++
}

func (a *RoleArbiter) Epoch() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}
