package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaultHostIsValid(t *testing.T) {
	cfg := Default()
	cfg.Role = RoleHost
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 4*cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvRole, "JOIN")
	t.Setenv(EnvPort, "6000")
	t.Setenv(EnvHost, "192.168.1.20")
	t.Setenv(EnvName, "Alice")
	t.Setenv(EnvLeadTime, "1500ms")
	t.Setenv(EnvHeartbeatInterval, "1s")
	t.Setenv(EnvHeartbeatTimeout, "5s")
	t.Setenv(EnvBridge, "127.0.0.1:7070")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvRoom, "   ")

	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, RoleJoin, cfg.Role)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "192.168.1.20", cfg.HostAddr)
	assert.Equal(t, "Alice", cfg.Name)
	assert.Equal(t, 1500*time.Millisecond, cfg.LeadTime)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, "127.0.0.1:7070", cfg.BridgeAddr)
	assert.True(t, cfg.Debug)
	assert.Empty(t, cfg.RoomID, "blank values are ignored")
	assert.Equal(t, Default().DialTimeout, cfg.DialTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	// Variables the file sets leak into the process; remove them afterwards.
	for _, key := range []string{EnvPort, EnvRoom, EnvName} {
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		os.Unsetenv(EnvPort)
		os.Unsetenv(EnvRoom)
	})
	t.Setenv(EnvName, "FromEnv")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "RHYTHMLINK_PORT=6100\nRHYTHMLINK_ROOM=lounge\nRHYTHMLINK_NAME=FromFile\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6100, cfg.Port)
	assert.Equal(t, "lounge", cfg.RoomID)
	assert.Equal(t, "FromEnv", cfg.Name, "the environment wins over the file")
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv(EnvPort, "fifty")
	t.Setenv(EnvLeadTime, "soon")
	t.Setenv(EnvDebug, "maybe")

	_, err := Load(missingFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPort)
	assert.Contains(t, err.Error(), EnvLeadTime)
	assert.Contains(t, err.Error(), EnvDebug)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Role = RoleJoin
		cfg.HostAddr = "10.0.0.2"
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing role", func(c *Config) { c.Role = "" }, "invalid role"},
		{"unknown role", func(c *Config) { c.Role = "spectator" }, "invalid role"},
		{"join without host", func(c *Config) { c.HostAddr = " " }, "host address"},
		{"port zero", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"port too big", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"empty name", func(c *Config) { c.Name = "" }, "name"},
		{"negative lead", func(c *Config) { c.LeadTime = -time.Second }, "lead time"},
		{"zero interval", func(c *Config) { c.HeartbeatInterval = 0 }, "heartbeat interval"},
		{"timeout not above interval", func(c *Config) { c.HeartbeatTimeout = c.HeartbeatInterval }, "must exceed"},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }, "dial timeout"},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, "write timeout"},
	}

	require.NoError(t, valid().Validate())

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseHostAddress(t *testing.T) {
	testCases := []struct {
		raw      string
		wantHost string
		wantPort int
	}{
		{"192.168.1.20", "192.168.1.20", DefaultPort},
		{"192.168.1.20:6000", "192.168.1.20", 6000},
		{" game-pc.local ", "game-pc.local", DefaultPort},
		{"game-pc.local:7000", "game-pc.local", 7000},
		{"::1", "::1", DefaultPort},
		{"[fe80::1]", "fe80::1", DefaultPort},
		{"[::1]:6000", "::1", 6000},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			host, port, err := ParseHostAddress(tc.raw, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.wantHost, host)
			assert.Equal(t, tc.wantPort, port)
		})
	}
}

func TestParseHostAddressErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", ":6000", "host:0", "host:99999", "host:abc", "a:b:c"} {
		t.Run(raw, func(t *testing.T) {
			_, _, err := ParseHostAddress(raw, DefaultPort)
			assert.Error(t, err)
		})
	}
}

func TestResolveJoinTargetKeepsConfiguredPort(t *testing.T) {
	testCases := []struct {
		name     string
		addr     string
		port     int
		wantHost string
		wantPort int
	}{
		{"bare host keeps port", "10.0.0.5", 6000, "10.0.0.5", 6000},
		{"address port wins", "10.0.0.5:7000", 6000, "10.0.0.5", 7000},
		{"bare IPv6 keeps port", "[fe80::1]", 6000, "fe80::1", 6000},
		{"no port anywhere", "10.0.0.5", 0, "10.0.0.5", DefaultPort},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Role = RoleJoin
			cfg.HostAddr = tc.addr
			cfg.Port = tc.port

			require.NoError(t, cfg.ResolveJoinTarget())
			assert.Equal(t, tc.wantHost, cfg.HostAddr)
			assert.Equal(t, tc.wantPort, cfg.Port)
		})
	}
}

func TestResolveJoinTargetRejectsBadAddress(t *testing.T) {
	cfg := Default()
	cfg.HostAddr = "host:abc"
	assert.Error(t, cfg.ResolveJoinTarget())
	assert.Equal(t, "host:abc", cfg.HostAddr)
}
