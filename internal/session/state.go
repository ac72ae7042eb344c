package session

import "github.com/1ureka/rhythmlink/internal/protocol"

// roomState is the room cache. Index 0 of the per-slot arrays is unused so
// slots index them directly. Guarded by Session.mu.
type roomState struct {
	difficulty [3]string
	ready      [3]bool
	lastSong   *protocol.SelectSong
	lastStart  *protocol.Start
	summaries  [3]*protocol.MatchSummary
}

// clearConnection drops everything scoped to one connection. Summaries
// survive so the result screen can be shown after the peer is gone.
func (r *roomState) clearConnection() {
	r.difficulty = [3]string{}
	r.ready = [3]bool{}
	r.lastSong = nil
	r.lastStart = nil
}

func (r *roomState) clearSummaries() {
	r.summaries = [3]*protocol.MatchSummary{}
}

// apply records an inbound or outbound message in the cache. Messages that
// are not cached are ignored.
func (r *roomState) apply(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SelectSong:
		c := *m
		r.lastSong = &c
	case *protocol.SelectDifficulty:
		if validSlot(m.Slot) == nil {
			r.difficulty[m.Slot] = m.Difficulty
		}
	case *protocol.Ready:
		if validSlot(m.Slot) == nil {
			r.ready[m.Slot] = m.IsReady
		}
	case *protocol.Start:
		c := *m
		r.lastStart = &c
	case *protocol.MatchSummary:
		if validSlot(m.Slot) == nil {
			c := *m
			r.summaries[m.Slot] = &c
		}
	}
}

// resync returns the messages that bring a freshly connected peer up to
// date with the cache.
func (r *roomState) resync() []protocol.Message {
	var msgs []protocol.Message
	if r.lastSong != nil {
		msgs = append(msgs, protocol.NewSelectSong(r.lastSong.SongID, r.lastSong.Difficulty))
	}
	for slot := 1; slot <= 2; slot++ {
		if r.difficulty[slot] != "" {
			msgs = append(msgs, protocol.NewSelectDifficulty(slot, r.difficulty[slot]))
		}
	}
	for slot := 1; slot <= 2; slot++ {
		msgs = append(msgs, protocol.NewReady(slot, r.ready[slot]))
	}
	for slot := 1; slot <= 2; slot++ {
		if s := r.summaries[slot]; s != nil {
			msgs = append(msgs, protocol.NewMatchSummary(*s))
		}
	}
	return msgs
}
