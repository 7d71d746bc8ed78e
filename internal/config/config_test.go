package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: dashboard-1
api:
  rest_url: http://boards.internal/api
  token: abc123
sync:
  ws_url: ws://boards.internal/ws
  reconnect_interval: 5s
channels:
  - /repos/alpha
  - /repos/beta
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "dashboard-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "dashboard-1")
	}
	if cfg.API.RestURL != "http://boards.internal/api" {
		t.Errorf("API.RestURL = %q", cfg.API.RestURL)
	}
	if cfg.Sync.ReconnectInterval != 5*time.Second {
		t.Errorf("Sync.ReconnectInterval = %v, want 5s", cfg.Sync.ReconnectInterval)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[1] != "/repos/beta" {
		t.Errorf("Channels = %v", cfg.Channels)
	}
	if cfg.Journal != nil {
		t.Error("Journal non-nil without a journal section")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_TOKEN", "secret123")

	yaml := `
instance:
  id: dashboard-1
api:
  token: ${TEST_API_TOKEN}
channels:
  - /repos/alpha
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: dashboard-1
channels:
  - /repos/alpha
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Sync.ReconnectInterval != DefaultReconnectInterval {
		t.Errorf("ReconnectInterval = %v, want %v", cfg.Sync.ReconnectInterval, DefaultReconnectInterval)
	}
	if cfg.Sync.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.Sync.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Sync.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want %v", cfg.Sync.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Sync.MutationTimeout != DefaultMutationTimeout {
		t.Errorf("MutationTimeout = %v, want %v", cfg.Sync.MutationTimeout, DefaultMutationTimeout)
	}
	if !cfg.Sync.AutoConnectEnabled() {
		t.Error("AutoConnectEnabled = false by default, want true")
	}
	if cfg.Health.Port != DefaultHealthPort || cfg.Health.Path != DefaultHealthPath {
		t.Errorf("Health = %+v", cfg.Health)
	}
}

func TestAutoConnectExplicitlyDisabled(t *testing.T) {
	yaml := `
instance:
  id: dashboard-1
sync:
  auto_connect: false
channels:
  - /repos/alpha
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Sync.AutoConnectEnabled() {
		t.Error("AutoConnectEnabled = true despite auto_connect: false")
	}
}

func TestJournalDefaults(t *testing.T) {
	yaml := `
instance:
  id: dashboard-1
channels:
  - /repos/alpha
journal:
  database:
    host: localhost
    name: boardsync
    user: journal
    password: pw
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Journal == nil {
		t.Fatal("Journal nil with a journal section present")
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Journal.BatchSize != DefaultBatchSize {
		t.Errorf("Journal.BatchSize = %d, want %d", cfg.Journal.BatchSize, DefaultBatchSize)
	}
	if cfg.Journal.FlushInterval != DefaultFlushInterval {
		t.Errorf("Journal.FlushInterval = %v, want %v", cfg.Journal.FlushInterval, DefaultFlushInterval)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "no channels",
			mutate:  func(c *Config) { c.Channels = nil },
			wantErr: "channels",
		},
		{
			name:    "bad channel key",
			mutate:  func(c *Config) { c.Channels = []string{"repos/alpha"} },
			wantErr: "must start with /",
		},
		{
			name:    "zero reconnect attempts",
			mutate:  func(c *Config) { c.Sync.MaxReconnectAttempts = 0 },
			wantErr: "max_reconnect_attempts",
		},
		{
			name:    "journal missing host",
			mutate:  func(c *Config) { c.Journal = &JournalConfig{BatchSize: 1} },
			wantErr: "journal.database.host",
		},
		{
			name:    "health port out of range",
			mutate:  func(c *Config) { c.Health.Port = 70000 },
			wantErr: "health.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Instance: InstanceConfig{ID: "dashboard-1"},
				Channels: []string{"/repos/alpha"},
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate returned nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePasses(t *testing.T) {
	cfg := &Config{
		Instance: InstanceConfig{ID: "dashboard-1"},
		Channels: []string{"/repos/alpha"},
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed on a defaulted config: %v", err)
	}
}
