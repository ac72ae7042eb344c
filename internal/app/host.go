// Package app contains the top-level orchestration for the host and joiner
// roles: it wires a session to the terminal, the console and the optional
// UI bridge.
package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/1ureka/rhythmlink/internal/config"
	"github.com/1ureka/rhythmlink/internal/session"
	"github.com/1ureka/rhythmlink/internal/util"
)

// RunHost orchestrates the full host lifecycle:
//  1. Open the room on cfg.Port
//  2. Print the address players should join
//  3. Run the console until the room closes, the player leaves or ctx ends
func RunHost(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	return run(ctx, cfg, in, out, func(s *session.Session) error {
		// ── 1. Open the room ───────────────────────────────────────────────
		if err := s.StartHost(cfg.Port, cfg.Name, cfg.RoomID); err != nil {
			return err
		}

		// ── 2. Share the address ───────────────────────────────────────────
		port := cfg.Port
		if addr, ok := s.ListenAddr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		fmt.Fprintln(out, roomBanner(s.RoomID(), util.LANAddress(), port))
		util.LogInfo("waiting for a player to join...")
		return nil
	})
}

// roomBanner renders what the host shares with the other player.
func roomBanner(roomID, lanAddr string, port int) string {
	content := fmt.Sprintf("Address : %s\nRoom    : %s",
		net.JoinHostPort(lanAddr, strconv.Itoa(port)), roomID)
	return pterm.DefaultBox.WithTitle("Room open").Sprint(content)
}
