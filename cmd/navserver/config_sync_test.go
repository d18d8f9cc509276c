package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelnav/internal/config"
)

func TestWriteConfigFromEnvJSON(t *testing.T) {
	t.Setenv(envConfigYAMLB64, "")
	t.Setenv(envConfigJSON, `{"server":{"id":"json-config"},"navigation":{"maxReplans":3}}`)

	path := filepath.Join(t.TempDir(), "config.json")
	wrote, err := writeConfigFromEnv(path)
	if err != nil {
		t.Fatalf("writeConfigFromEnv: %v", err)
	}
	if !wrote {
		t.Fatalf("expected config to be written")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Server.ID != "json-config" {
		t.Fatalf("unexpected server id: %q", cfg.Server.ID)
	}
	if cfg.Navigation.MaxReplans != 3 {
		t.Fatalf("maxReplans = %d, want 3", cfg.Navigation.MaxReplans)
	}
	if cfg.Server.TickRate.Duration() != 50*time.Millisecond {
		t.Fatalf("omitted tickRate should keep the default, got %v", cfg.Server.TickRate.Duration())
	}
}

func TestWriteConfigFromEnvYAML(t *testing.T) {
	payload := "server:\n  id: yaml-config\nnavigation:\n  stuckTimeout: 2s\n"
	t.Setenv(envConfigJSON, "")
	t.Setenv(envConfigYAMLB64, base64.StdEncoding.EncodeToString([]byte(payload)))

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	wrote, err := writeConfigFromEnv(path)
	if err != nil {
		t.Fatalf("writeConfigFromEnv: %v", err)
	}
	if !wrote {
		t.Fatalf("expected config to be written")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Server.ID != "yaml-config" {
		t.Fatalf("unexpected server id: %q", cfg.Server.ID)
	}
	if cfg.Navigation.StuckTimeout.Duration() != 2*time.Second {
		t.Fatalf("stuckTimeout = %v, want 2s", cfg.Navigation.StuckTimeout.Duration())
	}
}

func TestWriteConfigFromEnvNoop(t *testing.T) {
	t.Setenv(envConfigJSON, "")
	t.Setenv(envConfigYAMLB64, "")

	path := filepath.Join(t.TempDir(), "config.json")
	wrote, err := writeConfigFromEnv(path)
	if err != nil || wrote {
		t.Fatalf("expected no-op, got wrote=%v err=%v", wrote, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("config file should not exist: %v", err)
	}
}

func TestWriteConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv(envConfigYAMLB64, "")
	t.Setenv(envConfigJSON, `{"navigation":{"maxReplans":-1}}`)

	if _, err := writeConfigFromEnv(filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWriteConfigFromEnvRequiresPath(t *testing.T) {
	t.Setenv(envConfigYAMLB64, "")
	t.Setenv(envConfigJSON, `{}`)

	if _, err := writeConfigFromEnv(""); err == nil {
		t.Fatalf("expected error without a config path")
	}
}
