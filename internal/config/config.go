package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a JSON and YAML friendly wrapper around time.Duration that
// accepts human readable strings such as "150ms" in configuration files while
// still allowing numeric representations when necessary.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML encodes the duration using the canonical string representation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected scalar at line %d", value.Line)
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("duration: decode int: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	if value.Tag == "!!null" {
		*d = 0
		return nil
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures the tunable parameters needed to bootstrap a navigation server.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Chunk       ChunkConfig       `json:"chunk" yaml:"chunk"`
	Network     NetworkConfig     `json:"network" yaml:"network"`
	Pathfinding PathfindingConfig `json:"pathfinding" yaml:"pathfinding"`
	Navigation  NavigationConfig  `json:"navigation" yaml:"navigation"`
	Terrain     TerrainConfig     `json:"terrain" yaml:"terrain"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Observer    ObserverConfig    `json:"observer" yaml:"observer"`
	History     HistoryConfig     `json:"history" yaml:"history"`
}

type ServerConfig struct {
	ID                string     `json:"id" yaml:"id"`
	Description       string     `json:"description" yaml:"description"`
	GlobalChunkOrigin ChunkIndex `json:"globalChunkOrigin" yaml:"globalChunkOrigin"`
	TickRate          Duration   `json:"tickRate" yaml:"tickRate"` // e.g. "50ms"
}

type ChunkConfig struct {
	Width         int `json:"width" yaml:"width"`
	Depth         int `json:"depth" yaml:"depth"`
	Height        int `json:"height" yaml:"height"`
	ChunksPerAxis int `json:"chunksPerAxis" yaml:"chunksPerAxis"`
}

type NetworkConfig struct {
	ListenUDP            string `json:"listenUdp" yaml:"listenUdp"`                       // ":19100"
	MaxDatagramSizeBytes int    `json:"maxDatagramSizeBytes" yaml:"maxDatagramSizeBytes"` // default to 64 KiB - UDP practical limit
}

type PathfindingConfig struct {
	MaxIterations int     `json:"maxIterations" yaml:"maxIterations"`
	PartialMargin float64 `json:"partialMargin" yaml:"partialMargin"` // heuristic units a partial path must gain
}

// NavigationConfig tunes the path-following controller. Durations are
// converted to ticks using server.tickRate.
type NavigationConfig struct {
	ArrivalRadius             float64  `json:"arrivalRadius" yaml:"arrivalRadius"`
	DirectRange               float64  `json:"directRange" yaml:"directRange"`
	WaypointTolerance         float64  `json:"waypointTolerance" yaml:"waypointTolerance"`
	WaypointVerticalTolerance float64  `json:"waypointVerticalTolerance" yaml:"waypointVerticalTolerance"`
	TargetMoveThreshold       float64  `json:"targetMoveThreshold" yaml:"targetMoveThreshold"`
	StuckTimeout              Duration `json:"stuckTimeout" yaml:"stuckTimeout"`
	SessionTimeout            Duration `json:"sessionTimeout" yaml:"sessionTimeout"`
	ReplanCooldown            Duration `json:"replanCooldown" yaml:"replanCooldown"`
	MaxReplans                int      `json:"maxReplans" yaml:"maxReplans"`
	BlockedEscalateTicks      int      `json:"blockedEscalateTicks" yaml:"blockedEscalateTicks"`
	CollisionStrafeTicks      int      `json:"collisionStrafeTicks" yaml:"collisionStrafeTicks"`
	StrafeCommitTicks         int      `json:"strafeCommitTicks" yaml:"strafeCommitTicks"`
	SprintLookahead           int      `json:"sprintLookahead" yaml:"sprintLookahead"`
	TurnRateDegrees           float64  `json:"turnRateDegrees" yaml:"turnRateDegrees"` // per tick
}

type TerrainConfig struct {
	Seed        int64   `json:"seed" yaml:"seed"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	BaseHeight  int     `json:"baseHeight" yaml:"baseHeight"`
	WaterLevel  int     `json:"waterLevel" yaml:"waterLevel"`
}

// StorageConfig selects where chunk columns live. An empty DiskPath keeps
// everything in memory. SnapshotPath, when set, seeds the world from a
// compressed snapshot instead of the terrain generator.
type StorageConfig struct {
	DiskPath     string `json:"diskPath" yaml:"diskPath"`
	SnapshotPath string `json:"snapshotPath" yaml:"snapshotPath"`
}

type ObserverConfig struct {
	ListenHTTP string   `json:"listenHttp" yaml:"listenHttp"` // empty disables the status stream
	StreamRate Duration `json:"streamRate" yaml:"streamRate"`
}

type HistoryConfig struct {
	Path string `json:"path" yaml:"path"` // empty disables the sqlite outcome log
}

type ChunkIndex struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Load reads configuration from a JSON or YAML file if provided. An empty path
// returns defaults. Files ending in .yaml or .yml are decoded as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(path, data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode parses data into cfg, choosing the format from the file name.
func Decode(name string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:                "navserver-0",
			Description:       "local development navigation server",
			GlobalChunkOrigin: ChunkIndex{X: 0, Y: 0},
			TickRate:          Duration(50 * time.Millisecond),
		},
		Chunk: ChunkConfig{
			Width:         32,
			Depth:         32,
			Height:        64,
			ChunksPerAxis: 4,
		},
		Network: NetworkConfig{
			ListenUDP:            ":19100",
			MaxDatagramSizeBytes: 1 << 16,
		},
		Pathfinding: PathfindingConfig{
			MaxIterations: 10_000,
			PartialMargin: 1.0,
		},
		Navigation: NavigationConfig{
			ArrivalRadius:             1.5,
			DirectRange:               4.0,
			WaypointTolerance:         0.5,
			WaypointVerticalTolerance: 1.5,
			TargetMoveThreshold:       3.0,
			StuckTimeout:              Duration(3 * time.Second),
			SessionTimeout:            Duration(60 * time.Second),
			ReplanCooldown:            Duration(500 * time.Millisecond),
			MaxReplans:                8,
			BlockedEscalateTicks:      20,
			CollisionStrafeTicks:      4,
			StrafeCommitTicks:         10,
			SprintLookahead:           3,
			TurnRateDegrees:           30,
		},
		Terrain: TerrainConfig{
			Seed:        1337,
			Frequency:   0.04,
			Amplitude:   6,
			Octaves:     3,
			Persistence: 0.5,
			Lacunarity:  2.0,
			BaseHeight:  20,
			WaterLevel:  18,
		},
		Observer: ObserverConfig{
			ListenHTTP: "127.0.0.1:19180",
			StreamRate: Duration(250 * time.Millisecond),
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.ID == "" {
		return errors.New("server.id must be set")
	}
	if c.Server.TickRate <= 0 {
		return errors.New("server.tickRate must be positive")
	}
	if c.Chunk.Width <= 0 || c.Chunk.Depth <= 0 || c.Chunk.Height <= 0 {
		return errors.New("chunk dimensions must be positive")
	}
	if c.Chunk.ChunksPerAxis <= 0 {
		return errors.New("chunk.chunksPerAxis must be positive")
	}
	if c.Network.ListenUDP == "" {
		return errors.New("network.listenUdp must be set")
	}
	if c.Pathfinding.MaxIterations <= 0 {
		return errors.New("pathfinding.maxIterations must be positive")
	}
	if c.Navigation.ArrivalRadius <= 0 {
		return errors.New("navigation.arrivalRadius must be positive")
	}
	if c.Navigation.DirectRange < c.Navigation.ArrivalRadius {
		return errors.New("navigation.directRange must be >= arrivalRadius")
	}
	if c.Navigation.MaxReplans < 0 {
		return errors.New("navigation.maxReplans cannot be negative")
	}
	if c.Navigation.SessionTimeout <= 0 || c.Navigation.StuckTimeout <= 0 {
		return errors.New("navigation timeouts must be positive")
	}
	if c.Navigation.StuckTimeout > c.Navigation.SessionTimeout {
		return errors.New("navigation.stuckTimeout must be <= sessionTimeout")
	}
	if c.Observer.ListenHTTP != "" && c.Observer.StreamRate <= 0 {
		return errors.New("observer.streamRate must be positive when the observer is enabled")
	}
	if err := validateSchema(c); err != nil {
		return err
	}
	return nil
}
