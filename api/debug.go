// Package api
// Author: momentics
//
// Live introspection support for a running reactor.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState emits a snapshot of system state for diagnostics.
	DumpState() map[string]any

	// RegisterProbe registers a named probe evaluated on every DumpState.
	RegisterProbe(name string, fn func() any)
}
