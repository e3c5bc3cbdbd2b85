package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/conclave/internal/world"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Orchestrator.NPCCount)
	assert.Equal(t, 1500*time.Millisecond, cfg.Orchestrator.Stagger)
	assert.Equal(t, 3, cfg.Conversation.MaxListeners)
	assert.NotEmpty(t, cfg.Stations)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Tick, cfg.Tick)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	p := writeFile(t, "conclave.yaml", `
seed: 42
tick: 50ms
wander:
  min_wait: 2s
  max_wait: 4s
orchestrator:
  npc_count: 4
  schemer_count: 1
stations:
  - name: altar
    action: pray
    position: {x: 0, y: 5}
    action_point: {x: 0, y: 4}
    waiting_point: {x: 1, y: 3}
    overflow_point: {x: 2, y: 3}
    detection_radius: 6
    slots: 2
    call_interval: 3s
    cooldown: 30s
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.EqualValues(t, 42, cfg.Seed)
	assert.Equal(t, 50*time.Millisecond, cfg.Tick)
	assert.Equal(t, 2*time.Second, cfg.Wander.MinWait)
	assert.Equal(t, 0.1, cfg.Wander.ConverseChance, "unset keys keep their defaults")
	assert.Equal(t, 4, cfg.Orchestrator.NPCCount)
	require.Len(t, cfg.Stations, 1)
	require.NotNil(t, cfg.Stations[0].OverflowPoint)
	assert.Equal(t, world.V(2, 3), *cfg.Stations[0].OverflowPoint)
	assert.Equal(t, 30*time.Second, cfg.Stations[0].Cooldown)
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "conclave.toml", `
seed = 7
auto_exit = false

[movement]
stall_timeout = "0"

[conversation]
duration = "2.5s"

[[stations]]
name = "pulpit"
action = "speech"
position = { x = 1.0, y = 1.0 }
action_point = { x = 1.0, y = 0.0 }
waiting_point = { x = 2.0, y = 0.0 }
slots = 1
call_interval = "5s"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.EqualValues(t, 7, cfg.Seed)
	assert.False(t, cfg.AutoExit)
	assert.Zero(t, cfg.Movement.StallTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.Conversation.Duration)
	require.Len(t, cfg.Stations, 1)
	assert.Equal(t, ActionSpeech, cfg.Stations[0].Action)
	assert.Nil(t, cfg.Stations[0].OverflowPoint)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "bad.yaml", "tick: 100ms\nticks_per_day: 5\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config schema")
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	p := writeFile(t, "bad.yaml", "wander:\n  min_wait: soon\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	p := writeFile(t, "conclave.ini", "seed=1")
	_, err := Load(p)
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Tick = 0
	cfg.Wander.MinWait = 5 * time.Second
	cfg.Stations[0].Slots = 0
	cfg.Stations[1].Name = cfg.Stations[0].Name

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "tick must be positive")
	assert.Contains(t, msg, "wander.min_wait")
	assert.Contains(t, msg, "slots must be at least 1")
	assert.Contains(t, msg, "duplicate name")
}

func TestAnchorsCoverStationsAndPaths(t *testing.T) {
	cfg := Default()
	anchors := cfg.Anchors()
	assert.Contains(t, anchors, cfg.Stations[0].ActionPoint)
	assert.Contains(t, anchors, cfg.Orchestrator.Player.Spawn)
	assert.Contains(t, anchors, cfg.Orchestrator.LineupLeft.Exit)
}
