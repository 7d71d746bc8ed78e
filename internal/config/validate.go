package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}

	if c.Sync.WSURL == "" {
		return errors.New("sync.ws_url is required")
	}
	if c.Sync.MaxReconnectAttempts < 1 {
		return errors.New("sync.max_reconnect_attempts must be >= 1")
	}
	if c.Sync.BufferSize < 1 {
		return errors.New("sync.buffer_size must be >= 1")
	}

	if len(c.Channels) == 0 {
		return errors.New("channels must list at least one channel key")
	}
	for i, key := range c.Channels {
		if !strings.HasPrefix(key, "/") {
			return fmt.Errorf("channels[%d]: channel key %q must start with /", i, key)
		}
	}

	if c.Journal != nil {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
