package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wfunc/srtgame/broker"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Broker.URL != "amqp://localhost:5672" {
		t.Errorf("broker.url = %q", cfg.Broker.URL)
	}
	if cfg.Topology.GameEvents != "GAME.EVENT.OUT" || cfg.Topology.Commands != "COMMAND.IN" {
		t.Errorf("topology = %+v", cfg.Topology)
	}
	if cfg.Client.TickInterval != 50*time.Millisecond {
		t.Errorf("client.tick_interval = %s", cfg.Client.TickInterval)
	}
	if cfg.BrokerOptions().AckMode != broker.AckBeforeHandle {
		t.Error("default ack mode should be before_handle")
	}
	if cfg.Broker.InsecureSkipVerifyForTesting {
		t.Error("certificate checks must be on by default")
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
broker:
  url: amqps://broker.example:5671
  username: game
  password: secret
dispatch:
  ack_mode: after_handle
  credit: 32
client:
  tick_interval: 100ms
store:
  postgres:
    host: db
    port: 6543
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	opts := cfg.BrokerOptions()
	if opts.AckMode != broker.AckAfterHandle || opts.Credit != 32 || opts.Username != "game" {
		t.Errorf("broker options = %+v", opts)
	}
	if cfg.Client.TickInterval != 100*time.Millisecond {
		t.Errorf("client.tick_interval = %s", cfg.Client.TickInterval)
	}
	want := "host=db port=6543 user=postgres password= dbname=srtgame sslmode=disable"
	if got := cfg.Store.Postgres.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SRT_BROKER_URL", "amqp://env-broker:5672")
	t.Setenv("SRT_DISPATCH_ACK_MODE", "after_handle")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Broker.URL != "amqp://env-broker:5672" {
		t.Errorf("broker.url = %q", cfg.Broker.URL)
	}
	if cfg.Dispatch.AckMode != "after_handle" {
		t.Errorf("dispatch.ack_mode = %q", cfg.Dispatch.AckMode)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Broker:   BrokerConfig{URL: "amqp://localhost:5672"},
			Topology: TopologyConfig{GameEvents: "GAME.EVENT.OUT", Commands: "COMMAND.IN"},
			Client:   ClientConfig{TickInterval: time.Millisecond},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http endpoint", func(c *Config) { c.Broker.URL = "http://localhost" }},
		{"no host", func(c *Config) { c.Broker.URL = "amqp://" }},
		{"unknown ack mode", func(c *Config) { c.Dispatch.AckMode = "whenever" }},
		{"negative credit", func(c *Config) { c.Dispatch.Credit = -1 }},
		{"zero tick", func(c *Config) { c.Client.TickInterval = 0 }},
		{"shared address", func(c *Config) { c.Topology.Commands = c.Topology.GameEvents }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
