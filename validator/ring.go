package validator

// Ring implements the "Participants ring" of spec §3: a 3-slot rolling
// queue over epochs e-2, e-1, e. Slot 0 holds the dealers of the
// ceremony now running (outgoing validators), slot 1 the players
// (incoming validators), slot 2 the syncers (the next-next set). Its
// union, de-duplicated latest-wins on pubkey, is the p2p peer set
// registered for the current epoch (spec I4, §9 "Participants ring").
type Ring struct {
	slots [3][]Participant
}

// NewRing creates an empty ring, ready to be filled via Push as each
// epoch boundary is crossed.
func NewRing() *Ring {
	return &Ring{}
}

// Push enqueues a newly read validator set, dropping slot 0, shifting
// slot 1 -> slot 0 and slot 2 -> slot 1, and placing set into slot 2
// — the rolling window advance spec §9 describes ("at the boundary,
// enqueue the newly read validator set").
func (r *Ring) Push(set []Participant) {
	r.slots[0] = r.slots[1]
	r.slots[1] = r.slots[2]
	r.slots[2] = set
}

// Dealers returns the current ceremony's outgoing validator set
// (slot 0).
func (r *Ring) Dealers() []Participant { return r.slots[0] }

// Players returns the current ceremony's incoming validator set
// (slot 1).
func (r *Ring) Players() []Participant { return r.slots[1] }

// Syncers returns the next-next epoch's validator set (slot 2).
func (r *Ring) Syncers() []Participant { return r.slots[2] }

// Union computes the de-duplicated peer set: every participant across
// all three slots, with later slots winning on pubkey collision (spec
// I4 "dropped pubkeys (validators removed three epochs ago) are
// absent"; §9 "Preserve insertion order by de-duplicating on pubkey
// with latest-wins").
func (r *Ring) Union() []Participant {
	order := make([]string, 0)
	byKey := make(map[string]Participant)
	for _, slot := range r.slots {
		for _, p := range slot {
			key := p.Key()
			if _, seen := byKey[key]; !seen {
				order = append(order, key)
			}
			byKey[key] = p // later slot wins, overwriting any earlier entry
		}
	}
	out := make([]Participant, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// Rebuild directly assigns all three slots, bypassing Push's shift
// logic — the recovery path spec §4.2 "Persistence" requires after a
// restart: "re-initialize the Participants ring by reading validator
// sets at the boundaries of e-2 and e-1; the set for e is re-read when
// the Manager starts a new ceremony." Callers rebuild with current set
// left nil, then fill it with SetCurrent once it is re-read.
func (r *Ring) Rebuild(twoAgo, oneAgo, current []Participant) {
	r.slots[0] = twoAgo
	r.slots[1] = oneAgo
	r.slots[2] = current
}

// SetCurrent overwrites slot 2 (the current epoch's set) in place,
// without shifting the other slots — used right after Rebuild once the
// Manager re-reads epoch e's validator set while starting its ceremony.
func (r *Ring) SetCurrent(set []Participant) {
	r.slots[2] = set
}
