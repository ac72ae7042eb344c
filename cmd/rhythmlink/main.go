// Command rhythmlink hosts or joins a two-player rhythm game room over a
// direct TCP connection and drives it from a small console, optionally
// exposing the session to a local game UI over WebSocket.
//
// It can be launched interactively (no -role) or non-interactively via CLI
// flags (-role, -port, -addr, -name, -room, -bridge).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rhythmlink/internal/app"
	"github.com/1ureka/rhythmlink/internal/config"
	"github.com/1ureka/rhythmlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	envFile := flag.String("env", "", "dotenv file to load (default .env, optional)")
	role := flag.String("role", "", "Role: host or join")
	port := flag.Int("port", 0, "Port to listen on (host), 1~65535")
	addr := flag.String("addr", "", "Host address to join, host[:port] (join only)")
	name := flag.String("name", "", "Player name")
	room := flag.String("room", "", "Room id (host only, default: generated)")
	bridgeAddr := flag.String("bridge", "", "Expose the session to a local UI over WebSocket, e.g. 127.0.0.1:7070")
	lead := flag.Duration("lead", 0, "Count-in before the first note")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	traceMode := flag.Bool("trace", false, "Log every protocol line")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flags win over the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = config.Role(strings.ToLower(*role))
		case "port":
			cfg.Port = *port
		case "addr":
			cfg.HostAddr = *addr
		case "name":
			cfg.Name = *name
		case "room":
			cfg.RoomID = *room
		case "bridge":
			cfg.BridgeAddr = *bridgeAddr
		case "lead":
			cfg.LeadTime = *lead
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	switch {
	case *traceMode:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rhythmlink — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No -role flag → interactive mode.
		cfg = askInteractive(cfg)
	}

	if cfg.Role == config.RoleJoin && cfg.HostAddr != "" {
		if err := cfg.ResolveJoinTarget(); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleHost:
		err = app.RunHost(ctx, cfg, os.Stdin, os.Stdout)
	case config.RoleJoin:
		err = app.RunJoin(ctx, cfg, os.Stdin, os.Stdout)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("bye")
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askInteractive fills in the role and what that role needs when no -role
// flag is provided.
func askInteractive(cfg config.Config) config.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host — Open a room", "Join — Connect to a room"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	cfg.Name = askText("Player name", cfg.Name)

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		cfg.Port = askPort("Port to listen on (1 ~ 65535)", cfg.Port)
	} else {
		cfg.Role = config.RoleJoin
		cfg.HostAddr = askAddress()
	}
	return cfg
}

// askText prompts for a non-empty value, keeping def on empty input.
func askText(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("%s (%s)", prompt, def)).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string, def int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("%s [%d]", prompt, def)).
			Show()

		raw = strings.TrimSpace(raw)
		if raw == "" {
			pterm.Println()
			return def
		}
		port, err := strconv.Atoi(raw)
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askAddress prompts for host[:port] until it parses.
func askAddress() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Host address (e.g. 192.168.1.20 or 192.168.1.20:5050)").
			Show()

		if _, _, err := config.ParseHostAddress(raw, config.DefaultPort); err == nil {
			pterm.Println()
			return strings.TrimSpace(raw)
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a host or host:port")
	}
}
