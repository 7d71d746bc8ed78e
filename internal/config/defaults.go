package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://localhost:8080/api"
	DefaultWSURL                = "ws://localhost:8080/ws"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultBufferSize           = 1024
	DefaultMutationTimeout      = 15 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultHealthPort           = 9090
	DefaultHealthPath           = "/health"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Sync defaults
	if c.Sync.WSURL == "" {
		c.Sync.WSURL = DefaultWSURL
	}
	if c.Sync.ReconnectInterval == 0 {
		c.Sync.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Sync.MaxReconnectAttempts == 0 {
		c.Sync.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Sync.HeartbeatInterval == 0 {
		c.Sync.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Sync.BufferSize == 0 {
		c.Sync.BufferSize = DefaultBufferSize
	}
	if c.Sync.MutationTimeout == 0 {
		c.Sync.MutationTimeout = DefaultMutationTimeout
	}

	// Journal defaults
	if c.Journal != nil {
		applyDBDefaults(&c.Journal.Database)
		if c.Journal.BatchSize == 0 {
			c.Journal.BatchSize = DefaultBatchSize
		}
		if c.Journal.FlushInterval == 0 {
			c.Journal.FlushInterval = DefaultFlushInterval
		}
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
