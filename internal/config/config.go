// Package config holds the runtime configuration and loads it from an
// optional .env file and RHYTHMLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Role is the part the local player takes.
type Role string

const (
	RoleHost Role = "host"
	RoleJoin Role = "join"
)

// DefaultPort is used when no port is configured or given with the address.
const DefaultPort = 5050

// Environment variables read by Load.
const (
	EnvRole              = "RHYTHMLINK_ROLE"
	EnvPort              = "RHYTHMLINK_PORT"
	EnvHost              = "RHYTHMLINK_HOST"
	EnvName              = "RHYTHMLINK_NAME"
	EnvRoom              = "RHYTHMLINK_ROOM"
	EnvLeadTime          = "RHYTHMLINK_LEAD_TIME"
	EnvHeartbeatInterval = "RHYTHMLINK_HEARTBEAT_INTERVAL"
	EnvHeartbeatTimeout  = "RHYTHMLINK_HEARTBEAT_TIMEOUT"
	EnvDialTimeout       = "RHYTHMLINK_DIAL_TIMEOUT"
	EnvWriteTimeout      = "RHYTHMLINK_WRITE_TIMEOUT"
	EnvBridge            = "RHYTHMLINK_BRIDGE"
	EnvStatsInterval     = "RHYTHMLINK_STATS_INTERVAL"
	EnvDebug             = "RHYTHMLINK_DEBUG"
)

// Config stores every parameter of a run, whether it came from the
// environment, flags or interactive prompts.
type Config struct {
	Role     Role
	Port     int    // host: port to listen on; join: port to connect to
	HostAddr string // join: address of the host
	Name     string
	RoomID   string // host: empty means a generated id

	LeadTime          time.Duration // count-in between Start and the first note
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	BridgeAddr    string        // local WebSocket bridge; empty disables it
	StatsInterval time.Duration // zero disables the traffic reporter
	Debug         bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		Name:              "Player",
		LeadTime:          3 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTimeout:  8 * time.Second,
		DialTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		StatsInterval:     30 * time.Second,
	}
}

// Load reads the given dotenv files (".env" when none are named; a missing
// file is not an error) and applies RHYTHMLINK_* variables on top of
// Default. Variables already set in the environment win over the files.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()
	var errs []error

	if v, ok := lookup(EnvRole); ok {
		cfg.Role = Role(strings.ToLower(v))
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvPort, err))
		}
		cfg.Port = port
	}
	if v, ok := lookup(EnvHost); ok {
		cfg.HostAddr = v
	}
	if v, ok := lookup(EnvName); ok {
		cfg.Name = v
	}
	if v, ok := lookup(EnvRoom); ok {
		cfg.RoomID = v
	}
	if v, ok := lookup(EnvBridge); ok {
		cfg.BridgeAddr = v
	}
	if v, ok := lookup(EnvDebug); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvDebug, err))
		}
		cfg.Debug = debug
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvLeadTime, &cfg.LeadTime},
		{EnvHeartbeatInterval, &cfg.HeartbeatInterval},
		{EnvHeartbeatTimeout, &cfg.HeartbeatTimeout},
		{EnvDialTimeout, &cfg.DialTimeout},
		{EnvWriteTimeout, &cfg.WriteTimeout},
		{EnvStatsInterval, &cfg.StatsInterval},
	}
	for _, d := range durations {
		v, ok := lookup(d.env)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.env, err))
			continue
		}
		*d.dst = parsed
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost:
	case RoleJoin:
		if strings.TrimSpace(c.HostAddr) == "" {
			errs = append(errs, errors.New("join requires a host address"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be %q or %q", c.Role, RoleHost, RoleJoin))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be 1~65535", c.Port))
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("player name must not be empty"))
	}
	if c.LeadTime < 0 {
		errs = append(errs, fmt.Errorf("lead time %s must not be negative", c.LeadTime))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval %s must be positive", c.HeartbeatInterval))
	} else if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat timeout %s must exceed the interval %s", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial timeout %s must be positive", c.DialTimeout))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout %s must be positive", c.WriteTimeout))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("stats interval %s must not be negative", c.StatsInterval))
	}

	return errors.Join(errs...)
}

// ResolveJoinTarget splits HostAddr into host and port. A port written in
// the address wins; otherwise the configured Port is kept.
func (c *Config) ResolveJoinTarget() error {
	host, port, err := ParseHostAddress(c.HostAddr, c.Port)
	if err != nil {
		return err
	}
	c.HostAddr, c.Port = host, port
	return nil
}

// ParseHostAddress splits "host", "host:port", "[v6]:port" or a bare IPv6
// literal into host and port. fallbackPort is used when the address has no
// port, and DefaultPort when fallbackPort is not a valid port either.
func ParseHostAddress(raw string, fallbackPort int) (string, int, error) {
	if fallbackPort < 1 || fallbackPort > 65535 {
		fallbackPort = DefaultPort
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, errors.New("empty host address")
	}

	if addr, err := netip.ParseAddr(strings.Trim(raw, "[]")); err == nil {
		return addr.String(), fallbackPort, nil
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		if strings.Contains(raw, ":") {
			return "", 0, fmt.Errorf("invalid host address %q: %w", raw, err)
		}
		return raw, fallbackPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid host address %q: missing host", raw)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q: must be 1~65535", raw)
	}
	return host, port, nil
}
