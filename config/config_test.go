package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Expected memory driver, got %s", cfg.Database.Driver)
	}
	if cfg.Room.MinCharacters != 1 || cfg.Room.MaxPlayerSeats != 8 {
		t.Errorf("Unexpected room defaults %+v", cfg.Room)
	}
	if cfg.WebSocket.IdleTimeout != 90*time.Second {
		t.Errorf("Expected 90s idle timeout, got %s", cfg.WebSocket.IdleTimeout)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":9000"
database:
  driver: gorm
  postgres:
    host: db
room:
  min_characters: 2
  open_membership: false
  members: ["alice", "bob"]
websocket:
  idle_timeout: 2m
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEATKEEPER_DATABASE_POSTGRES_PORT", "6543")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9000" || cfg.Database.Driver != "gorm" || cfg.Database.Postgres.Host != "db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Database.Postgres.Port != 6543 {
		t.Errorf("env override not applied, port=%d", cfg.Database.Postgres.Port)
	}
	if cfg.Room.OpenMembership || len(cfg.Room.Members) != 2 || cfg.Room.MinCharacters != 2 {
		t.Errorf("room values not applied: %+v", cfg.Room)
	}
	if cfg.WebSocket.IdleTimeout != 2*time.Minute {
		t.Errorf("duration not decoded: %s", cfg.WebSocket.IdleTimeout)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:    ServerConfig{HTTPAddress: ":8080"},
			Database:  DatabaseConfig{Driver: "memory"},
			Room:      RoomConfig{MinCharacters: 1, MaxPlayerSeats: 4, OpeningWorkers: 1},
			WebSocket: WebSocketConfig{SendBuffer: 8, PingPeriod: time.Second, IdleTimeout: time.Minute},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"no seats", func(c *Config) { c.Room.MaxPlayerSeats = 0 }, false},
		{"min above max", func(c *Config) { c.Room.MinCharacters = 5 }, false},
		{"no workers", func(c *Config) { c.Room.OpeningWorkers = 0 }, false},
		{"ping after idle", func(c *Config) { c.WebSocket.PingPeriod = 2 * time.Minute }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
