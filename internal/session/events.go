package session

import "github.com/1ureka/rhythmlink/internal/protocol"

// Events is the callback surface offered to the game layer. Nil fields are
// skipped.
//
// Callbacks run on the session's background goroutines (read loop,
// heartbeat, teardown) or on the goroutine that issued the command. They
// must return promptly and must not call StartHost, JoinHost, Leave or
// Shutdown synchronously; start a goroutine for that.
type Events struct {
	// OnConnected fires when the peer completes the handshake. The slot is
	// the local one: 1 on the host, the JoinOk slot on the joiner.
	OnConnected func(slot int)
	// OnDisconnected fires at most once per connection attempt.
	OnDisconnected func(reason string)
	OnLog          func(text string)

	OnSelectSong       func(msg *protocol.SelectSong)
	OnSelectDifficulty func(msg *protocol.SelectDifficulty)
	OnReady            func(msg *protocol.Ready)
	OnStart            func(msg *protocol.Start)
	OnInput            func(msg *protocol.Input)
	OnHitResult        func(msg *protocol.HitResult)
	OnMatchSummary     func(msg *protocol.MatchSummary)
	OnPlayerSetting    func(msg *protocol.UpdatePlayerSetting)
}

func (e *Events) connected(slot int) {
	if e.OnConnected != nil {
		e.OnConnected(slot)
	}
}

func (e *Events) disconnected(reason string) {
	if e.OnDisconnected != nil {
		e.OnDisconnected(reason)
	}
}

func (e *Events) log(text string) {
	if e.OnLog != nil {
		e.OnLog(text)
	}
}

// dispatch raises the notification matching msg.
func (e *Events) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SelectSong:
		if e.OnSelectSong != nil {
			e.OnSelectSong(m)
		}
	case *protocol.SelectDifficulty:
		if e.OnSelectDifficulty != nil {
			e.OnSelectDifficulty(m)
		}
	case *protocol.Ready:
		if e.OnReady != nil {
			e.OnReady(m)
		}
	case *protocol.Start:
		if e.OnStart != nil {
			e.OnStart(m)
		}
	case *protocol.Input:
		if e.OnInput != nil {
			e.OnInput(m)
		}
	case *protocol.HitResult:
		if e.OnHitResult != nil {
			e.OnHitResult(m)
		}
	case *protocol.MatchSummary:
		if e.OnMatchSummary != nil {
			e.OnMatchSummary(m)
		}
	case *protocol.UpdatePlayerSetting:
		if e.OnPlayerSetting != nil {
			e.OnPlayerSetting(m)
		}
	}
}
