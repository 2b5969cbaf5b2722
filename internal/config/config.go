// Package config loads the node-local configuration recognised by the
// history subsystem, per spec.md §6. It is a trimmed adaptation of
// go-algorand's config.Local loading pattern: a struct of JSON-tagged
// defaults, merged with whatever a config file on disk overrides.
package config

import (
	"encoding/json"
	"io"
	"os"
)

// ArchiveCommands is the getCmd/putCmd/mkdirCmd template set for one named
// archive, per spec.md §6's HISTORY config key. Templates accept positional
// placeholders {0} (source) and {1} (dest); this package only carries the
// templates; no package in this module expands or executes them (the
// archive package has no shell-command transport).
type ArchiveCommands struct {
	GetCmd   string `json:"getCmd"`
	PutCmd   string `json:"putCmd"`
	MkdirCmd string `json:"mkdirCmd"`
}

// CatchupRecentInfinite is the sentinel CATCHUP_RECENT value meaning
// complete replay of every ledger after the last closed one (spec.md §3's
// "recent == ∞").
const CatchupRecentInfinite = ^uint32(0)

// Local holds the recognised configuration keys of spec.md §6.
type Local struct {
	// HISTORY maps archive name to its get/put/mkdir command templates.
	HISTORY map[string]ArchiveCommands `json:"HISTORY"`

	// CatchupRecent is CATCHUP_RECENT: how many recent ledgers to replay
	// via transactions rather than adopting buckets wholesale.
	// CatchupRecentInfinite is equivalent to CatchupComplete=true.
	CatchupRecent uint32 `json:"CATCHUP_RECENT"`

	// CatchupComplete is CATCHUP_COMPLETE.
	CatchupComplete bool `json:"CATCHUP_COMPLETE"`

	// ArtificiallyAccelerateTimeForTesting is
	// ARTIFICIALLY_ACCELERATE_TIME_FOR_TESTING: sets the checkpoint
	// frequency to 8 instead of 64.
	ArtificiallyAccelerateTimeForTesting bool `json:"ARTIFICIALLY_ACCELERATE_TIME_FOR_TESTING"`

	// UseConfigForGenesis is USE_CONFIG_FOR_GENESIS.
	UseConfigForGenesis bool `json:"USE_CONFIG_FOR_GENESIS"`

	// LedgerProtocolVersion is LEDGER_PROTOCOL_VERSION, carried into
	// bucket metadata.
	LedgerProtocolVersion uint32 `json:"LEDGER_PROTOCOL_VERSION"`
}

// DefaultLocal is the zero-config default: production checkpoint cadence,
// complete replay on catchup, genesis taken from configuration
// (UseConfigForGenesis).
var DefaultLocal = Local{
	HISTORY:                              map[string]ArchiveCommands{},
	CatchupRecent:                        CatchupRecentInfinite,
	CatchupComplete:                      true,
	ArtificiallyAccelerateTimeForTesting: false,
	UseConfigForGenesis:                  true,
	LedgerProtocolVersion:                0,
}

// LoadFromFile reads filename and merges it onto DefaultLocal. A missing
// file is not an error: callers get the defaults.
func LoadFromFile(filename string) (Local, error) {
	c := DefaultLocal
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}
	defer f.Close()
	return mergeFrom(f, c)
}

func mergeFrom(r io.Reader, base Local) (Local, error) {
	dec := json.NewDecoder(r)
	if err := dec.Decode(&base); err != nil && err != io.EOF {
		return base, err
	}
	return base, nil
}

// SaveToFile writes cfg to filename as indented JSON.
func SaveToFile(filename string, cfg Local) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0644)
}
