package config

import "time"

// Config is the root configuration for a boardsync instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Sync     SyncConfig     `yaml:"sync"`
	Channels []string       `yaml:"channels"`
	Journal  *JournalConfig `yaml:"journal"` // nil disables the journal
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this boardsync instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds REST task API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SyncConfig holds realtime synchronization settings.
type SyncConfig struct {
	WSURL                string        `yaml:"ws_url"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	AutoConnect          *bool         `yaml:"auto_connect"`
	BufferSize           int           `yaml:"buffer_size"`
	MutationTimeout      time.Duration `yaml:"mutation_timeout"`
}

// AutoConnectEnabled resolves the auto-connect flag after defaults.
func (c SyncConfig) AutoConnectEnabled() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// JournalConfig holds the optional change-event journal settings.
type JournalConfig struct {
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
