// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/replaybuf/internal/flagstore"
)

// DefaultRecorderVersion is used when neither client nor server pin one.
const DefaultRecorderVersion = "v1"

// Client holds the settings supplied by the embedding application. Pointer
// fields distinguish "unset" from an explicit choice; client settings win
// over server flags when set.
type Client struct {
	// Disabled force-disables recording regardless of server flags.
	Disabled bool

	// ConsoleLog overrides the server console-log capture flag when non-nil.
	ConsoleLog *bool

	// RecorderVersion pins the recorder bundle version when non-empty.
	RecorderVersion string

	// MaskAllInputs, BlockSelector and IgnoreSelector are forwarded to the
	// recorder at attach time; the engine itself never interprets them.
	MaskAllInputs  bool
	BlockSelector  string
	IgnoreSelector string
}

// Resolver merges client settings with persisted server flags. All methods
// are pure reads of the two inputs.
type Resolver struct {
	Client Client
	Store  flagstore.Store
}

func (r Resolver) flags() flagstore.Flags {
	if r.Store == nil {
		return flagstore.Flags{}
	}
	f, err := r.Store.Load()
	if err != nil {
		// A broken store reads as "no server flags"; the engine stays in its
		// pre-decide state rather than erroring out of a pure accessor.
		return flagstore.Flags{}
	}
	return f
}

// Enabled reports whether recording should run: the server flag must be on
// and the client must not have disabled it.
func (r Resolver) Enabled() bool {
	return r.flags().Enabled && !r.Client.Disabled
}

// ConsoleLogEnabled prefers the client setting when defined, then the server
// flag, defaulting to false.
func (r Resolver) ConsoleLogEnabled() bool {
	if r.Client.ConsoleLog != nil {
		return *r.Client.ConsoleLog
	}
	return r.flags().ConsoleLog
}

// RecorderVersion prefers the client pin, then the server value, then the
// default.
func (r Resolver) RecorderVersion() string {
	if r.Client.RecorderVersion != "" {
		return r.Client.RecorderVersion
	}
	if v := r.flags().RecorderVersion; v != "" {
		return v
	}
	return DefaultRecorderVersion
}
