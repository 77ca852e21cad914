package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
port: "9090"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "fleet_ro"
  database: "fleetdb"
  max_connections: 20
session:
  max_frames: 8
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_MAX_CONNECTIONS", "30")

	cfg, err := LoadFile(configPath, "test-version")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected Port=9090 (from yaml), got %s", cfg.Port)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Host from yaml, got %s", cfg.Database.Host)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("expected password from env")
	}
	if cfg.Database.MaxConnections != 30 {
		t.Errorf("expected MaxConnections=30 (from env), got %d", cfg.Database.MaxConnections)
	}
	if cfg.Session.MaxFrames != 8 {
		t.Errorf("expected MaxFrames=8, got %d", cfg.Session.MaxFrames)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected version to be injected, got %s", cfg.Version)
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Database.MinConnections != 5 || cfg.Database.MaxConnections != 50 {
		t.Errorf("expected pool defaults 5/50, got %d/%d", cfg.Database.MinConnections, cfg.Database.MaxConnections)
	}
	if cfg.Database.ConnectionTimeout != 10*time.Second {
		t.Errorf("expected 10s acquisition timeout, got %v", cfg.Database.ConnectionTimeout)
	}
	if cfg.Executor.MaxRetries != 3 || cfg.Executor.RetryBase != 500*time.Millisecond {
		t.Errorf("unexpected retry defaults: %d %v", cfg.Executor.MaxRetries, cfg.Executor.RetryBase)
	}
	if cfg.Cache.MasterTTL != time.Hour || cfg.Cache.RealtimeTTL != 30*time.Second {
		t.Errorf("unexpected cache TTL defaults")
	}
	if cfg.Session.MaxFrames != MinSessionFrames {
		t.Errorf("expected %d frames, got %d", MinSessionFrames, cfg.Session.MaxFrames)
	}
}

func TestLoadFile_SessionFramesFloor(t *testing.T) {
	t.Setenv("SESSION_MAX_FRAMES", "2")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Session.MaxFrames != MinSessionFrames {
		t.Errorf("expected frames raised to %d, got %d", MinSessionFrames, cfg.Session.MaxFrames)
	}
}

func TestLoadFile_RejectsInvertedPoolBounds(t *testing.T) {
	t.Setenv("DB_MIN_CONNECTIONS", "60")
	t.Setenv("DB_MAX_CONNECTIONS", "50")

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev"); err == nil {
		t.Fatal("expected error for min > max")
	}
}

func TestLoadFile_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestConnectionString(t *testing.T) {
	cfg := &DatabaseConfig{
		Host: "db.internal", Port: 6543, User: "ro", Password: "pw", Database: "fleet", SSLMode: "require",
	}
	want := "host=db.internal port=6543 user=ro password=pw dbname=fleet sslmode=require"
	if got := cfg.ConnectionString(); got != want && !IsRunningInDocker() {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestResolveHostForDocker_NonLocal(t *testing.T) {
	if got := ResolveHostForDocker("db.example.com"); got != "db.example.com" {
		t.Errorf("expected remote host unchanged, got %s", got)
	}
}
