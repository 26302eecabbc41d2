package store

import "time"

const StateVersion = 1

// State is the only bookkeeping shellpm persists besides the plugin trees.
type State struct {
	Version  int       `toml:"version"`
	Receipts []Receipt `toml:"receipts"`
}

// Receipt records the last successful install or update of a plugin.
type Receipt struct {
	ID        string    `toml:"id"`
	Outcome   string    `toml:"outcome"`
	Revision  string    `toml:"revision,omitempty"`
	Release   string    `toml:"release,omitempty"`
	UpdatedAt time.Time `toml:"updated_at"`
}
