// Package version holds build metadata and the process-wide shutdown flag.
package version

import (
	"go.uber.org/atomic"
)

var (
	Version    = "v0.0"    // -ldflags "-X github.com/SergeiSkv/pictofix/version.Version=$(git describe --tags)"
	CommitHash = "unknown" // git rev-parse HEAD
	BuiltAt    = "unknown" // LC_ALL=C date

	// ClosingStatus is set once SIGINT or SIGTERM arrives. Nothing is written after that.
	ClosingStatus = atomic.NewBool(false)
)
