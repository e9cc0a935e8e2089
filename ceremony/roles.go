package ceremony

import "bytes"

// Role is the part a node plays in a given ceremony, resolved purely
// from whether its identity key appears in the dealer and/or player
// sets (spec §4.1 "Roles"). A node may hold both RoleDealer and
// RolePlayer bits at once.
type Role uint8

const (
	// RoleObserver holds no RoleDealer or RolePlayer bit: the node runs
	// the ceremony state machine (to keep EpochState current) but
	// neither deals shares nor receives one.
	RoleObserver Role = 0
	RoleDealer   Role = 1 << 0
	RolePlayer   Role = 1 << 1
)

// Has reports whether r includes the bit part.
func (r Role) Has(part Role) bool { return r&part != 0 }

// String renders a human-readable role label for logging.
func (r Role) String() string {
	switch {
	case r.Has(RoleDealer) && r.Has(RolePlayer):
		return "dealer+player"
	case r.Has(RoleDealer):
		return "dealer"
	case r.Has(RolePlayer):
		return "player"
	default:
		return "observer"
	}
}

// ResolveRole determines self's Role for a ceremony over (dealers,
// players): Dealer if self's pubkey is in dealers AND self holds a
// share of the previous polynomial (hadPreviousShare); Player if self's
// pubkey is in players; Observer otherwise (spec §4.1 "Node is a Dealer
// if its pubkey is in dealers AND it holds a share of the previous
// polynomial... a Player if its pubkey is in players; otherwise
// Observer. A node may be both.").
func ResolveRole(self []byte, dealers, players [][]byte, hadPreviousShare bool) Role {
	var r Role
	if hadPreviousShare && containsKey(dealers, self) {
		r |= RoleDealer
	}
	if containsKey(players, self) {
		r |= RolePlayer
	}
	return r
}

func containsKey(set [][]byte, key []byte) bool {
	for _, k := range set {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

// IndexOf returns the position of key within an ordered participant
// key set, or -1 if absent. Used both for per-player share evaluation
// points and for the deterministic dealer ordering Lagrange recovery
// depends on (spec §9 "Dealer ordering for recovery").
func IndexOf(set [][]byte, key []byte) int {
	for i, k := range set {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}
