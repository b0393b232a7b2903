// Package session tracks a single hot backup from start to finish and decides
// which session is current for status queries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fgeck/gohotbackup/internal/metrics"
	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/fgeck/gohotbackup/internal/services/progress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AbortPoll is returned from Poll to ask the engine to stop copying.
const AbortPoll = -1

// State is the lifecycle position of a session.
type State int

// Session states.
const (
	StateStarting State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Registry holds the process-wide current session. Its lock only guards the
// pointer and is never held together with a session's own lock.
type Registry struct {
	mu      sync.Mutex
	current *Coordinator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Current returns the current session or nil.
func (r *Registry) Current() *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// claim makes c current and returns the session it displaced, if any.
func (r *Registry) claim(c *Coordinator) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.current
	r.current = c
	if previous != c {
		setProgressGauges(models.Progress{})
	}
	return previous
}

// release clears the current session if it is still c.
func (r *Registry) release(c *Coordinator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != c {
		return false
	}
	r.current = nil
	setProgressGauges(models.Progress{})
	return true
}

// publish exports p to the progress gauges if c is the current session.
func (r *Registry) publish(c *Coordinator, p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == c {
		setProgressGauges(p)
	}
}

// setProgressGauges must be called with the registry lock held.
func setProgressGauges(p models.Progress) {
	metrics.BytesDone.Set(float64(p.BytesDone))
	metrics.FilesDone.Set(float64(p.FilesDone))
	metrics.FilesTotal.Set(float64(p.FilesTotal))
}

// Coordinator receives the engine callbacks for one backup. It implements engine.Callbacks.
type Coordinator struct {
	id       string
	logger   zerolog.Logger
	registry *Registry
	ctx      context.Context
	cancel   context.CancelCauseFunc

	mu          sync.Mutex
	state       State
	progress    models.Progress
	lastErr     models.EngineError
	interrupted string
}

// New creates a session owned by the operation behind ctx. When ctx is done,
// the next poll aborts the backup.
func New(ctx context.Context, logger zerolog.Logger, registry *Registry) *Coordinator {
	id := uuid.NewString()
	ctx, cancel := context.WithCancelCause(ctx)

	return &Coordinator{
		id:       id,
		logger:   logger.With().Str("session_id", id).Logger(),
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateStarting,
	}
}

// ID returns the session identifier.
func (c *Coordinator) ID() string {
	return c.id
}

// Poll handles a progress report from the engine.
func (c *Coordinator) Poll(fraction float64, status string) int {
	if reason := c.interruptReason(); reason != "" {
		c.mu.Lock()
		if c.interrupted == "" {
			c.interrupted = reason
			c.logger.Info().Str("reason", reason).Msg("backup interrupted, asking engine to abort")
		}
		c.mu.Unlock()
		return AbortPoll
	}

	if progress.IsPreparing(status) {
		c.becomeCurrent()
		return 0
	}

	c.logger.Debug().
		Str("percent", fmt.Sprintf("%6.2f%%", fraction*100.0)).
		Str("status", status).
		Msg("backup progress")

	c.apply(fraction, status, progress.Parse(status))
	return 0
}

// Error records an engine error. Only the latest error is kept.
func (c *Coordinator) Error(code int, message string) {
	c.logger.Info().Int("errno", code).Str("message", message).Msg("backup error")
	metrics.EngineErrors.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = models.EngineError{Code: code, Message: message}
}

// Kill interrupts the session. The engine is asked to abort on its next poll.
func (c *Coordinator) Kill(reason string) {
	if reason == "" {
		reason = "operation was killed"
	}
	c.cancel(errors.New(reason))
}

// Finish ends the session and clears it from the registry if it is still current.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	c.state = StateFinished
	c.mu.Unlock()

	if c.registry.release(c) {
		c.logger.Debug().Msg("current backup session cleared")
	}
	c.cancel(nil)
}

// Progress returns a copy of the latest progress.
func (c *Coordinator) Progress() models.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.Clone()
}

// LastError returns the latest engine error; it is empty if none was reported.
func (c *Coordinator) LastError() models.EngineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// InterruptedReason returns why the session was interrupted, or "".
func (c *Coordinator) InterruptedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) interruptReason() string {
	if c.ctx.Err() == nil {
		return ""
	}
	return context.Cause(c.ctx).Error()
}

func (c *Coordinator) becomeCurrent() {
	previous := c.registry.claim(c)
	if previous != nil && previous != c {
		// The previous backup may have returned from the engine without reaching Finish yet.
		c.logger.Warn().
			Str("previous_session_id", previous.ID()).
			Msg("another backup session is still current; backups are running in quick succession")
		metrics.SessionsOverlapping.Inc()
	}

	c.mu.Lock()
	if c.state == StateStarting {
		c.state = StateActive
	}
	c.mu.Unlock()
}

func (c *Coordinator) apply(fraction float64, raw string, outcome progress.Outcome) {
	c.mu.Lock()
	switch o := outcome.(type) {
	case progress.DirectoryHeader:
		c.progress.Fraction = fraction
		c.progress.BytesDone = o.BytesDone
		c.progress.FilesDone = o.FilesIndex - 1 // the reported file is still open
		c.progress.FilesTotal = o.FilesIndex + o.FilesRemaining
		c.progress.Current = &models.Transfer{Source: o.Path}
	case progress.FileTransfer:
		c.applyTransfer(fraction, o)
	case progress.Throttled:
		c.applyTransfer(fraction, o.FileTransfer)
	default:
		c.mu.Unlock()
		reason := ""
		if u, ok := outcome.(progress.Unrecognized); ok {
			reason = u.Reason
		}
		c.logger.Debug().Str("status", raw).Str("reason", reason).Msg("unexpected backup poll message")
		metrics.UnrecognizedProgress.Inc()
		return
	}
	snapshot := c.progress
	c.mu.Unlock()

	c.registry.publish(c, snapshot)
}

// applyTransfer must be called with c.mu held.
func (c *Coordinator) applyTransfer(fraction float64, t progress.FileTransfer) {
	c.progress.Fraction = fraction
	c.progress.BytesDone = t.BytesDone
	c.progress.FilesDone = t.FilesIndex - 1
	c.progress.Current = &models.Transfer{
		Source:     t.Source,
		Dest:       t.Dest,
		BytesDone:  t.CurrentDone,
		BytesTotal: t.CurrentTotal,
	}
}
