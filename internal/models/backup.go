package models

import "time"

// StartResult holds the outcome of a hot backup.
type StartResult struct {
	OK                bool
	SessionID         string
	Destination       string
	Error             *EngineError // set when the backup failed
	InterruptedReason string       // set when the caller's operation was killed
	Progress          Progress     // last progress observed by the session
	Duration          time.Duration
}
