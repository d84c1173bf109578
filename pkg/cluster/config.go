package cluster

import "time"

// Config defines the behavior of a cluster node
type Config struct {
	// IsCluster enables cluster mode. Without it the manager never touches
	// the store and fires all events locally and synchronously.
	IsCluster bool `yaml:"is_cluster"`

	// Roster housekeeping
	TimeoutRunningNode time.Duration `yaml:"timeout_running_node"` // Running rows older than this are reaped (default: 60s)
	TimeoutOtherNode   time.Duration `yaml:"timeout_other_node"`   // Rows in any state older than this are reaped (default: 15m)

	// Refetch driver
	RefetchInterval          time.Duration `yaml:"refetch_interval"`             // default: 16s
	RefetchWaitOnStopTimeout time.Duration `yaml:"refetch_wait_on_stop_timeout"` // default: 30s
	ConfirmationPollInterval time.Duration `yaml:"confirmation_poll_interval"`   // default: 3s

	// ConnectionPool names the store endpoint to use
	ConnectionPool string `yaml:"connection_pool"`

	// KeepPropertyLog disables truncating the property log when the last
	// node leaves the roster
	KeepPropertyLog bool `yaml:"keep_property_log"`
}

// DefaultConfig returns the default configuration (cluster mode off)
func DefaultConfig() Config {
	return Config{
		IsCluster:                false,
		TimeoutRunningNode:       60 * time.Second,
		TimeoutOtherNode:         15 * time.Minute,
		RefetchInterval:          16 * time.Second,
		RefetchWaitOnStopTimeout: 30 * time.Second,
		ConfirmationPollInterval: 3 * time.Second,
		ConnectionPool:           "default",
		KeepPropertyLog:          false,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.TimeoutRunningNode <= 0 || c.TimeoutOtherNode <= 0 {
		return ErrInvalidTimeout
	}
	if c.ConfirmationPollInterval <= 0 || c.RefetchWaitOnStopTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.RefetchInterval <= 0 {
		return ErrInvalidRefetchInterval
	}
	if c.TimeoutOtherNode < c.TimeoutRunningNode {
		return ErrTimeoutOrder
	}
	// A node must heartbeat at least once per timeout or its peers reap it
	if c.RefetchInterval >= c.TimeoutRunningNode {
		return ErrRefetchTooSlow
	}
	return nil
}
