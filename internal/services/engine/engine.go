// Package engine defines the contract with the external hot backup engine and
// provides an adapter that drives an engine executable.
package engine

import (
	"context"
	"syscall"
)

// Callbacks receives reports from the engine while a backup runs.
// The engine invokes them from its own goroutine.
type Callbacks interface {
	// Poll reports overall progress and a status line. A non-zero return asks the engine to abort.
	Poll(fraction float64, status string) int
	// Error reports an engine error.
	Error(code int, message string)
}

// Engine performs the actual file copy.
type Engine interface {
	// CreateBackup copies sources[i] into destinations[i] and blocks until done.
	// It returns 0 on success.
	CreateBackup(sources, destinations []string, cb Callbacks) int
	// Throttle limits engine I/O to bytesPerSecond. Zero means unlimited.
	Throttle(bytesPerSecond uint64)
	// Version returns the engine's version string.
	Version(ctx context.Context) (string, error)
}

// AbortMessage is reported through Callbacks.Error when a poll requested an abort.
const AbortMessage = "User aborted backup"

// AbortCode is the errno reported together with AbortMessage.
const AbortCode = int(syscall.ECANCELED)
