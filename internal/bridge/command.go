package bridge

import (
	"errors"
	"fmt"

	"github.com/1ureka/rhythmlink/internal/protocol"
)

// Commander is the part of a session the bridge drives. *session.Session
// implements it.
type Commander interface {
	SelectSong(songID, difficulty string) error
	SelectDifficulty(slot int, difficulty string) error
	SetReady(slot int, ready bool) error
	SendStart(leadTimeMs int64) (*protocol.Start, error)
	SendInput(slot int, noteType string, atMs float64) error
	SendHitResult(r protocol.HitResult) error
	SendMatchSummary(s protocol.MatchSummary) error
	SendPlayerSetting(slot int, speed float64) error
	Leave(reason string)
}

// Command names accepted from the UI.
const (
	CmdSelectSong       = "selectSong"
	CmdSelectDifficulty = "selectDifficulty"
	CmdSetReady         = "setReady"
	CmdStart            = "start"
	CmdInput            = "input"
	CmdHitResult        = "hitResult"
	CmdMatchSummary     = "matchSummary"
	CmdPlayerSetting    = "playerSetting"
	CmdLeave            = "leave"
)

// ErrUnknownCommand is returned for a command name not listed above.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one JSON object sent by the UI. Only the fields the named
// command needs are read.
type Command struct {
	Command    string                 `json:"Command"`
	SongID     string                 `json:"SongId,omitempty"`
	Difficulty string                 `json:"Difficulty,omitempty"`
	Slot       int                    `json:"Slot,omitempty"`
	IsReady    bool                   `json:"IsReady,omitempty"`
	LeadTimeMs int64                  `json:"LeadTimeMs,omitempty"`
	NoteType   string                 `json:"NoteType,omitempty"`
	AtMs       float64                `json:"AtMs,omitempty"`
	Speed      float64                `json:"Speed,omitempty"`
	Reason     string                 `json:"Reason,omitempty"`
	HitResult  *protocol.HitResult    `json:"HitResult,omitempty"`
	Summary    *protocol.MatchSummary `json:"Summary,omitempty"`
}

// Apply runs the command against c.
func (cmd Command) Apply(c Commander) error {
	switch cmd.Command {
	case CmdSelectSong:
		return c.SelectSong(cmd.SongID, cmd.Difficulty)
	case CmdSelectDifficulty:
		return c.SelectDifficulty(cmd.Slot, cmd.Difficulty)
	case CmdSetReady:
		return c.SetReady(cmd.Slot, cmd.IsReady)
	case CmdStart:
		_, err := c.SendStart(cmd.LeadTimeMs)
		return err
	case CmdInput:
		return c.SendInput(cmd.Slot, cmd.NoteType, cmd.AtMs)
	case CmdHitResult:
		if cmd.HitResult == nil {
			return fmt.Errorf("%s: missing HitResult", cmd.Command)
		}
		return c.SendHitResult(*cmd.HitResult)
	case CmdMatchSummary:
		if cmd.Summary == nil {
			return fmt.Errorf("%s: missing Summary", cmd.Command)
		}
		return c.SendMatchSummary(*cmd.Summary)
	case CmdPlayerSetting:
		return c.SendPlayerSetting(cmd.Slot, cmd.Speed)
	case CmdLeave:
		reason := cmd.Reason
		if reason == "" {
			reason = "left the room"
		}
		c.Leave(reason)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}
