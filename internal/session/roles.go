package session

import "github.com/karyven/peerchat/internal/domain"

// ResolveRole decides which endpoint initiates the offer.
//
// Random mode needs only symmetry breaking: the lexicographically lower
// transport id calls, a total order requiring no coordination. Direct
// mode must match human intent and stay stable across reconnects, so
// the invitation initiator calls regardless of id ordering. There is
// deliberately no id-based fallback in direct mode.
func ResolveRole(mode domain.Mode, self, partner domain.TransportID, initiator bool) domain.Role {
	if mode == domain.ModeDirect {
		if initiator {
			return domain.RoleCaller
		}
		return domain.RoleReceiver
	}
	if self < partner {
		return domain.RoleCaller
	}
	return domain.RoleReceiver
}
