package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ladder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
transport: nats
nats_url: nats://broker:4222
deployment_url: https://talks.example.com/fri
auto_advance: false
timings:
  notes_publish_delay: 500ms
  ready_fallback: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportNATS, cfg.Transport)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, "https://talks.example.com/fri", cfg.DeploymentURL)
	assert.False(t, cfg.AutoAdvance)
	assert.Equal(t, 500*time.Millisecond, cfg.Timings.NotesPublishDelay)
	assert.Equal(t, 2*time.Second, cfg.Timings.ReadyFallback)
	assert.Equal(t, 600*time.Millisecond, cfg.Timings.EchoGuard, "unset keys keep defaults")
	assert.Equal(t, "ws://localhost:8090/ws", cfg.RelayURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "transport: nats\nauto_advance: true\n")
	t.Setenv("LADDER_TRANSPORT", "memory")
	t.Setenv("LADDER_AUTO_ADVANCE", "false")
	t.Setenv("LADDER_READY_FALLBACK", "1500ms")
	t.Setenv("LADDER_DEPLOYMENT_URL", "https://other.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Transport)
	assert.False(t, cfg.AutoAdvance)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timings.ReadyFallback)
	assert.Equal(t, "https://other.example.com", cfg.DeploymentURL)
}

func TestLoad_PathFromEnv(t *testing.T) {
	t.Setenv("LADDER_CONFIG", writeConfig(t, "relay_url: ws://relay.internal/ws\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ws://relay.internal/ws", cfg.RelayURL)
}

func TestLoad_InvalidEnvValuesAreIgnored(t *testing.T) {
	t.Setenv("LADDER_AUTO_ADVANCE", "sometimes")
	t.Setenv("LADDER_READY_FALLBACK", "soon")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.AutoAdvance)
	assert.Equal(t, 4*time.Second, cfg.Timings.ReadyFallback)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "transport: [nats"},
		{"unknown transport", "transport: carrier-pigeon"},
		{"negative timing", "timings:\n  echo_guard: -1s\n"},
		{"bad duration", "timings:\n  echo_guard: fast\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
