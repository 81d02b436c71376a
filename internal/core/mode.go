// Package core is the orchestration layer.  It composes the server,
// transports and capabilities into the three things the ptyd binary
// can do, and provides a builder that selects one from a Config.
//
// Architecture layers (bottom → top):
//
//	spawn/reaper  →  console  →  admin  →  server/tunnel  →  core  →  cmd
//
// The builder in this package is the single dispatch point between the
// parsed configuration and a running mode.
package core

import "context"

// Mode represents a complete operational mode of ptyd (serve, attach
// or nc).  Each mode owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
