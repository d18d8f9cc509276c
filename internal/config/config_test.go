package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "missing server id",
			mutate: func(cfg *Config) {
				cfg.Server.ID = ""
			},
			wantErr: "server.id must be set",
		},
		{
			name: "non positive tick rate",
			mutate: func(cfg *Config) {
				cfg.Server.TickRate = 0
			},
			wantErr: "server.tickRate must be positive",
		},
		{
			name: "non positive chunk dimensions",
			mutate: func(cfg *Config) {
				cfg.Chunk.Width = 0
			},
			wantErr: "chunk dimensions must be positive",
		},
		{
			name: "missing chunk per axis",
			mutate: func(cfg *Config) {
				cfg.Chunk.ChunksPerAxis = 0
			},
			wantErr: "chunk.chunksPerAxis must be positive",
		},
		{
			name: "missing network listen address",
			mutate: func(cfg *Config) {
				cfg.Network.ListenUDP = ""
			},
			wantErr: "network.listenUdp must be set",
		},
		{
			name: "zero search budget",
			mutate: func(cfg *Config) {
				cfg.Pathfinding.MaxIterations = 0
			},
			wantErr: "pathfinding.maxIterations must be positive",
		},
		{
			name: "direct range inside arrival radius",
			mutate: func(cfg *Config) {
				cfg.Navigation.DirectRange = 0.5
			},
			wantErr: "navigation.directRange must be >= arrivalRadius",
		},
		{
			name: "negative replans",
			mutate: func(cfg *Config) {
				cfg.Navigation.MaxReplans = -1
			},
			wantErr: "navigation.maxReplans cannot be negative",
		},
		{
			name: "stuck timeout longer than session",
			mutate: func(cfg *Config) {
				cfg.Navigation.StuckTimeout = Duration(2 * time.Minute)
			},
			wantErr: "navigation.stuckTimeout must be <= sessionTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateAppliesSchema(t *testing.T) {
	cfg := Default()
	cfg.Navigation.TurnRateDegrees = 270

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected schema violation")
	}
	if !strings.HasPrefix(err.Error(), "config schema:") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsFileAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Server.Description = "custom description"
	cfg.Network.ListenUDP = ":9999"
	cfg.Navigation.StuckTimeout = Duration(1500 * time.Millisecond)

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Server.ID = "yaml-server"
	cfg.Navigation.SessionTimeout = Duration(90 * time.Second)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if !strings.Contains(string(data), "sessionTimeout: 1m30s") {
		t.Fatalf("expected human readable duration in yaml, got:\n%s", data)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	doc := "navigation:\n  maxReplans: 2\n  stuckTimeout: 2s\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Navigation.MaxReplans != 2 {
		t.Fatalf("expected maxReplans 2, got %d", got.Navigation.MaxReplans)
	}
	if got.Navigation.StuckTimeout.Duration() != 2*time.Second {
		t.Fatalf("expected stuck timeout 2s, got %v", got.Navigation.StuckTimeout.Duration())
	}
	if got.Server.ID != Default().Server.ID {
		t.Fatalf("expected default server id to survive, got %q", got.Server.ID)
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Chunk.Width = 0

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: chunk dimensions must be positive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationDecodesNumbers(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte("1500000000"), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration() != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", d.Duration())
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &d); err == nil {
		t.Fatalf("expected parse error for bogus duration")
	}
}
