package chatsync

// PresenceTracker maintains the set of currently-online user ids from
// snapshot events pushed over the channel. Each snapshot replaces the
// entire set; the transport delivers full snapshots, not deltas.
//
// Snapshots carry no server-side sequence number, so the tracker stamps a
// local monotonic sequence as snapshots pass through the engine's single
// event timeline and rejects any snapshot applied with a stale sequence.
//
// PresenceTracker is not goroutine-safe; the engine serializes access.
type PresenceTracker struct {
	online  map[string]struct{}
	lastSeq uint64
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: map[string]struct{}{}}
}

// OnSnapshot replaces the online set when seq is newer than the last
// applied snapshot. It reports whether the snapshot was applied.
func (p *PresenceTracker) OnSnapshot(seq uint64, ids []string) bool {
	if p == nil {
		return false
	}
	if seq <= p.lastSeq {
		return false
	}
	p.lastSeq = seq
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		next[id] = struct{}{}
	}
	p.online = next
	return true
}

// IsOnline is a pure lookup against the last applied snapshot.
func (p *PresenceTracker) IsOnline(id string) bool {
	if p == nil {
		return false
	}
	_, ok := p.online[id]
	return ok
}

// Online returns a copy of the online id set.
func (p *PresenceTracker) Online() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}

// LastSeq returns the sequence of the last applied snapshot.
func (p *PresenceTracker) LastSeq() uint64 {
	if p == nil {
		return 0
	}
	return p.lastSeq
}
