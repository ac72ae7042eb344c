package app

import (
	"sync"
	"time"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/session"
	"github.com/1ureka/rhythmlink/internal/util"
)

// watcher reports session events on the terminal and signals when the
// session has ended.
type watcher struct {
	now   func() time.Time
	ended chan string
	once  sync.Once
}

func newWatcher() *watcher {
	return &watcher{
		now:   time.Now,
		ended: make(chan string, 1),
	}
}

// events returns the terminal callbacks. Lines the session logs itself
// (OnLog) are already on the terminal and are not repeated.
func (w *watcher) events() session.Events {
	return session.Events{
		OnConnected: func(slot int) {
			util.LogSuccess("connected, you are player %d", slot)
		},
		OnDisconnected: func(reason string) {
			util.LogWarning("disconnected: %s", reason)
			w.once.Do(func() { w.ended <- reason })
		},
		OnSelectSong: func(m *protocol.SelectSong) {
			util.LogInfo("song selected: %s (%s)", m.SongID, m.Difficulty)
		},
		OnSelectDifficulty: func(m *protocol.SelectDifficulty) {
			util.LogInfo("player %d difficulty: %s", m.Slot, m.Difficulty)
		},
		OnReady: func(m *protocol.Ready) {
			if m.IsReady {
				util.LogInfo("player %d is ready", m.Slot)
			} else {
				util.LogInfo("player %d is not ready", m.Slot)
			}
		},
		OnStart: func(m *protocol.Start) {
			util.LogSuccess("match starts in %s", m.Until(w.now()).Round(time.Millisecond))
		},
		OnInput: func(m *protocol.Input) {
			util.LogDebug("player %d input %s at %.1fms", m.Slot, m.NoteType, m.AtMs)
		},
		OnHitResult: func(m *protocol.HitResult) {
			util.LogDebug("player %d %s: score %d, combo %d", m.Slot, m.Result, m.Score, m.Combo)
		},
		OnMatchSummary: func(m *protocol.MatchSummary) {
			util.LogInfo("player %d (%s) finished: score %d, accuracy %.2f%%, max combo %d",
				m.Slot, m.PlayerName, m.Score, m.Accuracy, m.MaxCombo)
		},
		OnPlayerSetting: func(m *protocol.UpdatePlayerSetting) {
			util.LogDebug("player %d speed %.2f", m.Slot, m.Speed)
		},
	}
}
