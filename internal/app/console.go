package app

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rhythmlink/internal/bridge"
	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/session"
)

// Controller is what the console drives. *session.Session implements it.
type Controller interface {
	bridge.Commander
	Status() session.Status
}

// Console turns typed lines into session commands.
type Console struct {
	ctl      Controller
	name     string
	leadTime time.Duration
	out      io.Writer
}

// NewConsole creates a console for the local player name. leadTime is the
// count-in used by a bare "start".
func NewConsole(ctl Controller, name string, leadTime time.Duration, out io.Writer) *Console {
	return &Console{ctl: ctl, name: name, leadTime: leadTime, out: out}
}

const consoleHelp = `commands:
  song <id> [difficulty]     select the song
  diff <difficulty> [slot]   set a difficulty (default: your slot)
  ready [on|off]             toggle your ready flag (default: on)
  start [lead ms]            start the match after a count-in
  input <note> <at ms>       send a tap
  summary <score> [acc %]    send your result
  speed <multiplier>         share your scroll speed
  status                     show the room
  leave [reason]             leave the room`

var errUsage = errors.New("usage")

// Execute runs one line. It reports quit once the player has left.
func (c *Console) Execute(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)

	case "song":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: song <id> [difficulty]", errUsage)
		}
		difficulty := ""
		if len(args) > 1 {
			difficulty = args[1]
		}
		err = c.ctl.SelectSong(args[0], difficulty)

	case "diff":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: diff <difficulty> [slot]", errUsage)
		}
		slot, serr := c.slotArg(args[1:])
		if serr != nil {
			return false, serr
		}
		err = c.ctl.SelectDifficulty(slot, args[0])

	case "ready":
		ready := true
		if len(args) > 0 {
			if ready, err = parseOnOff(args[0]); err != nil {
				return false, err
			}
		}
		slot, serr := c.slotArg(nil)
		if serr != nil {
			return false, serr
		}
		err = c.ctl.SetReady(slot, ready)

	case "start":
		lead := c.leadTime.Milliseconds()
		if len(args) > 0 {
			if lead, err = strconv.ParseInt(args[0], 10, 64); err != nil {
				return false, fmt.Errorf("%w: start [lead ms]", errUsage)
			}
		}
		_, err = c.ctl.SendStart(lead)

	case "input":
		if len(args) < 2 {
			return false, fmt.Errorf("%w: input <note> <at ms>", errUsage)
		}
		atMs, perr := strconv.ParseFloat(args[1], 64)
		if perr != nil {
			return false, fmt.Errorf("%w: input <note> <at ms>", errUsage)
		}
		slot, serr := c.slotArg(nil)
		if serr != nil {
			return false, serr
		}
		err = c.ctl.SendInput(slot, args[0], atMs)

	case "summary":
		sum, serr := c.summaryArgs(args)
		if serr != nil {
			return false, serr
		}
		err = c.ctl.SendMatchSummary(sum)

	case "speed":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: speed <multiplier>", errUsage)
		}
		speed, perr := strconv.ParseFloat(args[0], 64)
		if perr != nil || speed <= 0 {
			return false, fmt.Errorf("%w: speed <multiplier>", errUsage)
		}
		slot, serr := c.slotArg(nil)
		if serr != nil {
			return false, serr
		}
		err = c.ctl.SendPlayerSetting(slot, speed)

	case "status":
		return false, c.printStatus()

	case "leave", "quit", "exit":
		reason := strings.Join(args, " ")
		if reason == "" {
			reason = "left the room"
		}
		c.ctl.Leave(reason)
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q, type help", name)
	}

	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return false, nil
}

// slotArg returns the slot given in args, or the local one.
func (c *Console) slotArg(args []string) (int, error) {
	if len(args) > 0 {
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid slot %q", args[0])
		}
		return slot, nil
	}
	slot := c.ctl.Status().LocalSlot
	if slot == 0 {
		return 0, errors.New("not in a room yet")
	}
	return slot, nil
}

func (c *Console) summaryArgs(args []string) (protocol.MatchSummary, error) {
	if len(args) < 1 {
		return protocol.MatchSummary{}, fmt.Errorf("%w: summary <score> [acc %%]", errUsage)
	}
	score, err := strconv.Atoi(args[0])
	if err != nil {
		return protocol.MatchSummary{}, fmt.Errorf("%w: summary <score> [acc %%]", errUsage)
	}
	var accuracy float64
	if len(args) > 1 {
		if accuracy, err = strconv.ParseFloat(args[1], 64); err != nil {
			return protocol.MatchSummary{}, fmt.Errorf("%w: summary <score> [acc %%]", errUsage)
		}
	}
	slot, err := c.slotArg(nil)
	if err != nil {
		return protocol.MatchSummary{}, err
	}
	return protocol.MatchSummary{Slot: slot, PlayerName: c.name, Score: score, Accuracy: accuracy}, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: ready [on|off]", errUsage)
	}
	return v, nil
}

func (c *Console) printStatus() error {
	st := c.ctl.Status()

	song := "-"
	if st.Song != nil {
		song = fmt.Sprintf("%s (%s)", st.Song.SongID, st.Song.Difficulty)
	}
	peer := st.PeerName
	if peer == "" {
		peer = "-"
	}
	fmt.Fprintf(c.out, "role %s, room %s, slot %d, connected %t, peer %s\nsong %s\n",
		st.Role, orDash(st.RoomID), st.LocalSlot, st.Connected, peer, song)

	rows := [][]string{{"", "Player 1", "Player 2"}}
	rows = append(rows, []string{"Difficulty", orDash(st.Difficulty[0]), orDash(st.Difficulty[1])})
	rows = append(rows, []string{"Ready", yesNo(st.Ready[0]), yesNo(st.Ready[1])})
	rows = append(rows, []string{"Score", summaryScore(st.Summaries[0]), summaryScore(st.Summaries[1])})

	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, table)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func summaryScore(s *protocol.MatchSummary) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%d (%.2f%%)", s.Score, s.Accuracy)
}
