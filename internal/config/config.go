// Package config is the read-only balance and configuration store. A file
// (YAML or TOML, chosen by extension) is validated against an embedded JSON
// schema and overlaid onto Default().
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/conclave/internal/world"
)

//go:embed schema.json
var schemaJSON string

// Config is the full simulation configuration.
type Config struct {
	Seed      int64         `yaml:"seed" toml:"seed" json:"seed"`
	Tick      time.Duration `yaml:"tick" toml:"tick" json:"tick"`
	Speed     float64       `yaml:"speed" toml:"speed" json:"speed"` // sim seconds per wall second
	DataDir   string        `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	APIPort   int           `yaml:"api_port" toml:"api_port" json:"api_port"`
	SaveEvery time.Duration `yaml:"save_every" toml:"save_every" json:"save_every"`
	AutoExit  bool          `yaml:"auto_exit" toml:"auto_exit" json:"auto_exit"`

	Balance      Balance           `yaml:"balance" toml:"balance" json:"balance"`
	Wander       Wander            `yaml:"wander" toml:"wander" json:"wander"`
	Movement     Movement          `yaml:"movement" toml:"movement" json:"movement"`
	Conversation Conversation      `yaml:"conversation" toml:"conversation" json:"conversation"`
	Orchestrator Orchestrator      `yaml:"orchestrator" toml:"orchestrator" json:"orchestrator"`
	Navigation   world.FieldConfig `yaml:"navigation" toml:"navigation" json:"navigation"`
	Stations     []Station         `yaml:"stations" toml:"stations" json:"stations"`
}

// Balance holds stat and action tuning.
type Balance struct {
	InitialHealth    int `yaml:"initial_health" toml:"initial_health" json:"initial_health"`
	InitialInfluence int `yaml:"initial_influence" toml:"initial_influence" json:"initial_influence"`
	InitialPiety     int `yaml:"initial_piety" toml:"initial_piety" json:"initial_piety"`

	MoveSpeed            float64       `yaml:"move_speed" toml:"move_speed" json:"move_speed"`
	HealthDrainPerSecond float64       `yaml:"health_drain_per_second" toml:"health_drain_per_second" json:"health_drain_per_second"`
	MaxSessionTime       time.Duration `yaml:"max_session_time" toml:"max_session_time" json:"max_session_time"`

	PraySuccessChance float64 `yaml:"pray_success_chance" toml:"pray_success_chance" json:"pray_success_chance"`
	PraySuccessPiety  int     `yaml:"pray_success_piety" toml:"pray_success_piety" json:"pray_success_piety"`
	PraySuccessHealth int     `yaml:"pray_success_health" toml:"pray_success_health" json:"pray_success_health"`
	PrayFailPiety     int     `yaml:"pray_fail_piety" toml:"pray_fail_piety" json:"pray_fail_piety"`
	PrayFailHealth    int     `yaml:"pray_fail_health" toml:"pray_fail_health" json:"pray_fail_health"`

	SpeechSuccessChance float64       `yaml:"speech_success_chance" toml:"speech_success_chance" json:"speech_success_chance"`
	SpeechInfluenceMin  int           `yaml:"speech_influence_min" toml:"speech_influence_min" json:"speech_influence_min"`
	SpeechInfluenceMax  int           `yaml:"speech_influence_max" toml:"speech_influence_max" json:"speech_influence_max"` // inclusive
	SpeechSuccessHealth int           `yaml:"speech_success_health" toml:"speech_success_health" json:"speech_success_health"`
	SpeechFailInfluence int           `yaml:"speech_fail_influence" toml:"speech_fail_influence" json:"speech_fail_influence"`
	SpeechFailHealth    int           `yaml:"speech_fail_health" toml:"speech_fail_health" json:"speech_fail_health"`
	SpeechDuration      time.Duration `yaml:"speech_duration" toml:"speech_duration" json:"speech_duration"`

	SchemeInfluence int `yaml:"scheme_influence" toml:"scheme_influence" json:"scheme_influence"`
}

// Wander tunes the idle roaming loop.
type Wander struct {
	MinWait        time.Duration `yaml:"min_wait" toml:"min_wait" json:"min_wait"`
	MaxWait        time.Duration `yaml:"max_wait" toml:"max_wait" json:"max_wait"`
	Radius         float64       `yaml:"radius" toml:"radius" json:"radius"`
	SampleRadius   float64       `yaml:"sample_radius" toml:"sample_radius" json:"sample_radius"`
	ConverseChance float64       `yaml:"converse_chance" toml:"converse_chance" json:"converse_chance"`
}

// Movement tunes waypoint following and arrival detection.
type Movement struct {
	StoppingDistance float64       `yaml:"stopping_distance" toml:"stopping_distance" json:"stopping_distance"`
	ArrivalSpeed     float64       `yaml:"arrival_speed" toml:"arrival_speed" json:"arrival_speed"` // at or below counts as stopped
	JitterX          float64       `yaml:"jitter_x" toml:"jitter_x" json:"jitter_x"`                // +/- range
	JitterYMin       float64       `yaml:"jitter_y_min" toml:"jitter_y_min" json:"jitter_y_min"`
	JitterYMax       float64       `yaml:"jitter_y_max" toml:"jitter_y_max" json:"jitter_y_max"`
	PlayerOffset     world.Vec2    `yaml:"player_offset" toml:"player_offset" json:"player_offset"`
	PriorityMoving   int           `yaml:"priority_moving" toml:"priority_moving" json:"priority_moving"`
	PriorityPlayer   int           `yaml:"priority_player" toml:"priority_player" json:"priority_player"`
	PriorityNPC      int           `yaml:"priority_npc" toml:"priority_npc" json:"priority_npc"`
	StallTimeout     time.Duration `yaml:"stall_timeout" toml:"stall_timeout" json:"stall_timeout"` // 0 waits forever
}

// Conversation tunes the conversation sequence.
type Conversation struct {
	Settle          time.Duration `yaml:"settle" toml:"settle" json:"settle"`
	Duration        time.Duration `yaml:"duration" toml:"duration" json:"duration"`
	MaxListeners    int           `yaml:"max_listeners" toml:"max_listeners" json:"max_listeners"`
	SchemeListeners int           `yaml:"scheme_listeners" toml:"scheme_listeners" json:"scheme_listeners"`
	Radius          float64       `yaml:"radius" toml:"radius" json:"radius"`
}

// Path is a spawn point followed by the waypoints of an entry walk.
type Path struct {
	Spawn     world.Vec2   `yaml:"spawn" toml:"spawn" json:"spawn"`
	Waypoints []world.Vec2 `yaml:"waypoints" toml:"waypoints" json:"waypoints"`
}

// Lineup anchors one side of the exit formation.
type Lineup struct {
	Start world.Vec2 `yaml:"start" toml:"start" json:"start"`
	End   world.Vec2 `yaml:"end" toml:"end" json:"end"`
	Exit  world.Vec2 `yaml:"exit" toml:"exit" json:"exit"`
}

// Orchestrator tunes entry and exit choreography.
type Orchestrator struct {
	NPCCount     int           `yaml:"npc_count" toml:"npc_count" json:"npc_count"`
	SchemerCount int           `yaml:"schemer_count" toml:"schemer_count" json:"schemer_count"`
	Stagger      time.Duration `yaml:"stagger" toml:"stagger" json:"stagger"`
	EntrySettle  time.Duration `yaml:"entry_settle" toml:"entry_settle" json:"entry_settle"`
	ExitSettle   time.Duration `yaml:"exit_settle" toml:"exit_settle" json:"exit_settle"`
	ExitStep     time.Duration `yaml:"exit_step" toml:"exit_step" json:"exit_step"`
	ShiftWait    time.Duration `yaml:"shift_wait" toml:"shift_wait" json:"shift_wait"`

	Left   Path `yaml:"left" toml:"left" json:"left"`
	Right  Path `yaml:"right" toml:"right" json:"right"`
	Player Path `yaml:"player" toml:"player" json:"player"`

	LineupLeft  Lineup `yaml:"lineup_left" toml:"lineup_left" json:"lineup_left"`
	LineupRight Lineup `yaml:"lineup_right" toml:"lineup_right" json:"lineup_right"`
}

// Action is what a station does to the agent it serves.
type Action string

const (
	ActionPray   Action = "pray"
	ActionSpeech Action = "speech"
)

// Station configures one service station.
type Station struct {
	Name            string        `yaml:"name" toml:"name" json:"name"`
	Action          Action        `yaml:"action" toml:"action" json:"action"`
	Position        world.Vec2    `yaml:"position" toml:"position" json:"position"`
	ActionPoint     world.Vec2    `yaml:"action_point" toml:"action_point" json:"action_point"`
	WaitingPoint    world.Vec2    `yaml:"waiting_point" toml:"waiting_point" json:"waiting_point"`
	OverflowPoint   *world.Vec2   `yaml:"overflow_point" toml:"overflow_point" json:"overflow_point,omitempty"` // nil disables overflow
	DetectionRadius float64       `yaml:"detection_radius" toml:"detection_radius" json:"detection_radius"`
	JoinRadius      float64       `yaml:"join_radius" toml:"join_radius" json:"join_radius"` // 0 disables the player join zone
	Slots           int           `yaml:"slots" toml:"slots" json:"slots"`
	CallInterval    time.Duration `yaml:"call_interval" toml:"call_interval" json:"call_interval"`
	Cooldown        time.Duration `yaml:"cooldown" toml:"cooldown" json:"cooldown"`
	ServiceDuration time.Duration `yaml:"service_duration" toml:"service_duration" json:"service_duration"`
	ArrivalRadius   float64       `yaml:"arrival_radius" toml:"arrival_radius" json:"arrival_radius"`
}

// Default returns the built-in configuration: a nave with an altar and a
// pulpit, twenty cardinals plus the player.
func Default() Config {
	overflow := world.V(3.5, 7)
	return Config{
		Seed:      0,
		Tick:      100 * time.Millisecond,
		Speed:     1,
		DataDir:   "data",
		APIPort:   8080,
		SaveEvery: 60 * time.Second,
		AutoExit:  true,
		Balance: Balance{
			InitialHealth:        100,
			InitialInfluence:     0,
			InitialPiety:         50,
			MoveSpeed:            3.5,
			HealthDrainPerSecond: 0.1,
			MaxSessionTime:       180 * time.Second,
			PraySuccessChance:    0.7,
			PraySuccessPiety:     10,
			PraySuccessHealth:    5,
			PrayFailPiety:        -5,
			PrayFailHealth:       -5,
			SpeechSuccessChance:  0.5,
			SpeechInfluenceMin:   3,
			SpeechInfluenceMax:   8,
			SpeechSuccessHealth:  -5,
			SpeechFailInfluence:  -2,
			SpeechFailHealth:     -10,
			SpeechDuration:       3 * time.Second,
			SchemeInfluence:      5,
		},
		Wander: Wander{
			MinWait:        1 * time.Second,
			MaxWait:        3 * time.Second,
			Radius:         2,
			SampleRadius:   1,
			ConverseChance: 0.1,
		},
		Movement: Movement{
			StoppingDistance: 0.1,
			ArrivalSpeed:     0.3,
			JitterX:          1.5,
			JitterYMin:       -4,
			JitterYMax:       7,
			PlayerOffset:     world.V(0, -1),
			PriorityMoving:   1,
			PriorityPlayer:   10,
			PriorityNPC:      50,
			StallTimeout:     10 * time.Second,
		},
		Conversation: Conversation{
			Settle:          500 * time.Millisecond,
			Duration:        5 * time.Second,
			MaxListeners:    3,
			SchemeListeners: 1,
			Radius:          3,
		},
		Orchestrator: Orchestrator{
			NPCCount:     20,
			SchemerCount: 2,
			Stagger:      1500 * time.Millisecond,
			EntrySettle:  5 * time.Second,
			ExitSettle:   5 * time.Second,
			ExitStep:     500 * time.Millisecond,
			ShiftWait:    2 * time.Second,
			Left: Path{
				Spawn:     world.V(-18, -10),
				Waypoints: []world.Vec2{world.V(-18, -2), world.V(-6, -2)},
			},
			Right: Path{
				Spawn:     world.V(18, -10),
				Waypoints: []world.Vec2{world.V(18, -2), world.V(6, -2)},
			},
			Player: Path{
				Spawn:     world.V(0, -11),
				Waypoints: []world.Vec2{world.V(0, -4)},
			},
			LineupLeft:  Lineup{Start: world.V(-10, 8), End: world.V(-10, -8), Exit: world.V(-18, -10)},
			LineupRight: Lineup{Start: world.V(10, 8), End: world.V(10, -8), Exit: world.V(18, -10)},
		},
		Navigation: world.FieldConfig{
			Min:         world.V(-20, -12),
			Max:         world.V(20, 12),
			Threshold:   0.82,
			Frequency:   0.15,
			ClearRadius: 1.5,
		},
		Stations: []Station{
			{
				Name:            "altar",
				Action:          ActionPray,
				Position:        world.V(0, 10),
				ActionPoint:     world.V(0, 9),
				WaitingPoint:    world.V(2, 7),
				OverflowPoint:   &overflow,
				DetectionRadius: 8,
				JoinRadius:      1.5,
				Slots:           2,
				CallInterval:    3 * time.Second,
				Cooldown:        30 * time.Second,
				ServiceDuration: 4 * time.Second,
				ArrivalRadius:   0.5,
			},
			{
				Name:            "pulpit",
				Action:          ActionSpeech,
				Position:        world.V(-14, 9),
				ActionPoint:     world.V(-14, 8),
				WaitingPoint:    world.V(-12, 6),
				DetectionRadius: 7,
				JoinRadius:      1.5,
				Slots:           1,
				CallInterval:    5 * time.Second,
				Cooldown:        45 * time.Second,
				ServiceDuration: 3 * time.Second,
				ArrivalRadius:   0.5,
			},
		},
	}
}

// Load reads path and overlays it onto Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("decode raw config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return cfg, fmt.Errorf("decode raw config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	if err := validateSchema(raw); err != nil {
		return cfg, err
	}
	// A configured station list replaces the defaults instead of merging
	// into them element by element.
	if _, ok := raw["stations"]; ok {
		cfg.Stations = nil
	}

	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	schema, err := jsonschema.CompileString("config.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	// The validator expects values shaped like encoding/json output.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode config for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Validate rejects semantically invalid settings.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Tick > 0, "tick must be positive")
	check(c.Speed > 0, "speed must be positive")
	check(c.Balance.MoveSpeed > 0, "balance.move_speed must be positive")
	check(c.Balance.SpeechInfluenceMin <= c.Balance.SpeechInfluenceMax,
		"balance.speech_influence_min %d exceeds max %d", c.Balance.SpeechInfluenceMin, c.Balance.SpeechInfluenceMax)
	check(c.Wander.MinWait <= c.Wander.MaxWait, "wander.min_wait exceeds wander.max_wait")
	check(c.Movement.StallTimeout >= 0, "movement.stall_timeout must not be negative")
	check(c.Conversation.MaxListeners >= 0, "conversation.max_listeners must not be negative")
	check(c.Orchestrator.NPCCount >= 0, "orchestrator.npc_count must not be negative")
	check(c.Orchestrator.SchemerCount <= c.Orchestrator.NPCCount,
		"orchestrator.schemer_count %d exceeds npc_count %d", c.Orchestrator.SchemerCount, c.Orchestrator.NPCCount)
	check(c.Navigation.Min.X < c.Navigation.Max.X && c.Navigation.Min.Y < c.Navigation.Max.Y,
		"navigation bounds are empty")

	seen := make(map[string]bool, len(c.Stations))
	for i, s := range c.Stations {
		check(s.Name != "", "stations[%d]: name is required", i)
		check(!seen[s.Name], "stations[%d]: duplicate name %q", i, s.Name)
		seen[s.Name] = true
		check(s.Action == ActionPray || s.Action == ActionSpeech, "stations[%d]: unknown action %q", i, s.Action)
		check(s.Slots >= 1, "stations[%d]: slots must be at least 1", i)
		check(s.CallInterval > 0, "stations[%d]: call_interval must be positive", i)
		check(s.Cooldown >= 0, "stations[%d]: cooldown must not be negative", i)
	}
	return errors.Join(errs...)
}

// Anchors lists the configured points that must stay walkable.
func (c Config) Anchors() []world.Vec2 {
	o := c.Orchestrator
	var pts []world.Vec2
	for _, p := range []Path{o.Left, o.Right, o.Player} {
		pts = append(pts, p.Spawn)
		pts = append(pts, p.Waypoints...)
	}
	for _, l := range []Lineup{o.LineupLeft, o.LineupRight} {
		pts = append(pts, l.Start, l.End, l.Exit)
		pts = append(pts, world.NewFormation(l.Start, l.End, o.NPCCount/2+1).Slots...)
	}
	for _, s := range c.Stations {
		pts = append(pts, s.Position, s.ActionPoint, s.WaitingPoint)
		if s.OverflowPoint != nil {
			pts = append(pts, *s.OverflowPoint)
		}
	}
	return pts
}
