// Package hotreload keeps a skill registry synchronized with a set of watched
// directories. Raw file-system events are debounced per path, serialized per
// path with expiring leases, parsed, and applied to the registry.
package hotreload

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds configuration for the hot-reload manager
type Config struct {
	// WatchPaths are the directories (or files) to watch
	WatchPaths []string
	// IncludeDefaultPaths adds the project-level and home-level skill
	// directories to WatchPaths
	IncludeDefaultPaths bool
	// Recursive watches subdirectories of every watch path
	Recursive bool
	// Debounce is the quiet period a path must observe before its handler runs
	Debounce time.Duration
	// LockTimeout bounds how long a per-path lease is held before it can be
	// reclaimed
	LockTimeout time.Duration
	// IgnoreInitial skips the scan of files that exist when watching starts
	IgnoreInitial bool
	// AutoRegister registers parsed skills on add and change
	AutoRegister bool
	// AutoUnregister unregisters skills whose file is removed
	AutoUnregister bool
	// IgnorePatterns are layered on top of the built-in ignore patterns
	IgnorePatterns []string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Recursive:      true,
		Debounce:       300 * time.Millisecond,
		LockTimeout:    5 * time.Second,
		AutoRegister:   true,
		AutoUnregister: true,
	}
}

// Validate validates the Config and returns an error if invalid
func (c *Config) Validate() error {
	if c.Debounce < 0 {
		return errors.Errorf("debounce cannot be negative: %s", c.Debounce)
	}
	if c.LockTimeout <= 0 {
		return errors.Errorf("lock timeout must be positive: %s", c.LockTimeout)
	}
	if len(c.WatchPaths) == 0 && !c.IncludeDefaultPaths {
		return errors.New("no watch paths configured")
	}
	return nil
}
