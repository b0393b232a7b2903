// Package backup orchestrates hot backups: it plans directories, runs the engine
// under a session and answers throttle and status requests.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fgeck/gohotbackup/internal/metrics"
	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/fgeck/gohotbackup/internal/services/engine"
	"github.com/fgeck/gohotbackup/internal/services/planner"
	"github.com/fgeck/gohotbackup/internal/services/session"
	"github.com/fgeck/gohotbackup/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Messages attached to inconsistent engine results.
const (
	msgSucceededWithError = "backup succeeded but reported an error"
	msgFailedWithoutError = "backup failed but didn't report an error"
)

var (
	// ErrInvalidDestination is returned when start is called without a destination.
	ErrInvalidDestination = errors.New("invalid destination directory")
	// ErrNegativeThrottle is returned for throttle values below zero.
	ErrNegativeThrottle = errors.New("throttle argument cannot be negative")
	// ErrNoBackupRunning is returned when no session is current.
	ErrNoBackupRunning = errors.New("no backup running")
	// ErrEngineDisabled is returned when the engine reports itself as disabled.
	ErrEngineDisabled = errors.New("hot backup engine support not found")
)

// Service defines the interface for hot backup operations.
type Service interface {
	Start(ctx context.Context, destination string) (*models.StartResult, error)
	Throttle(ctx context.Context, bytesPerSecond int64) error
	Status(ctx context.Context) (models.Progress, error)
	Kill(ctx context.Context, reason string) error
	Version(ctx context.Context) (string, error)
	CheckEngine(ctx context.Context) (string, error)
}

// Impl implements the backup Service interface.
type Impl struct {
	engine      engine.Engine
	plannerSvc  planner.Service
	telegramSvc telegram.Service
	registry    *session.Registry
	storage     models.StorageConfig
	telegram    *models.TelegramConfig
	host        string
	logger      zerolog.Logger
}

// New creates a new backup service driving eng.
func New(logger zerolog.Logger, cfg models.Config, eng engine.Engine) *Impl {
	return NewWithServices(
		logger,
		cfg,
		eng,
		planner.New(logger, cfg.Storage.DirMode),
		telegram.New(logger),
		session.NewRegistry(),
	)
}

// NewWithServices creates a new backup service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.Config,
	eng engine.Engine,
	plannerSvc planner.Service,
	telegramSvc telegram.Service,
	registry *session.Registry,
) *Impl {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Impl{
		engine:      eng,
		plannerSvc:  plannerSvc,
		telegramSvc: telegramSvc,
		registry:    registry,
		storage:     cfg.Storage,
		telegram:    cfg.Telegram,
		host:        host,
		logger:      logger,
	}
}

// Start runs a hot backup into destination and blocks until the engine returns.
// Cancelling ctx interrupts the backup at the engine's next poll.
// Failures of the backup itself are reported in the result, not as an error.
func (s *Impl) Start(ctx context.Context, destination string) (*models.StartResult, error) {
	if destination == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}

	startTime := time.Now()
	result := &models.StartResult{Destination: destination}

	defer func() {
		result.Duration = time.Since(startTime)
		metrics.SessionDuration.Observe(result.Duration.Seconds())
		if s.telegram != nil {
			// The caller may already be gone; the notification should still go out.
			s.sendNotification(context.WithoutCancel(ctx), startTime, result)
		}
	}()

	plan, err := s.plannerSvc.Plan(s.storage.DataDir, s.storage.LogDir, destination)
	if err == nil {
		err = s.plannerSvc.Prepare(plan)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("destination", destination).Msg("backup setup failed")
		result.Error = &models.EngineError{Code: errnoOf(err), Message: err.Error()}
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeSetupError).Inc()
		return result, nil
	}

	sess := session.New(ctx, s.logger, s.registry)
	result.SessionID = sess.ID()

	s.logger.Info().
		Str("session_id", sess.ID()).
		Strs("sources", plan.Sources()).
		Strs("destinations", plan.Destinations()).
		Msg("starting hot backup")

	rc := s.engine.CreateBackup(plan.Sources(), plan.Destinations(), sess)
	sess.Finish()

	lastErr := sess.LastError()
	result.InterruptedReason = sess.InterruptedReason()
	result.Progress = sess.Progress()

	if rc == 0 {
		if !lastErr.Empty() {
			s.logger.Warn().
				Int("errno", lastErr.Code).
				Str("message", lastErr.Message).
				Msg(msgSucceededWithError)
		}
		result.OK = true
	} else {
		if lastErr.Empty() {
			s.logger.Warn().Int("rc", rc).Msg(msgFailedWithoutError)
			lastErr = models.EngineError{Message: msgFailedWithoutError}
		}
		result.Error = &lastErr
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case result.InterruptedReason != "":
		outcome = metrics.OutcomeInterrupted
	case !result.OK:
		outcome = metrics.OutcomeFailure
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()

	event := s.logger.Info()
	if !result.OK {
		event = s.logger.Error().Int("errno", result.Error.Code).Str("error", result.Error.Message)
	}
	event.
		Str("session_id", result.SessionID).
		Str("outcome", outcome).
		Str("interrupted_reason", result.InterruptedReason).
		Uint64("bytes_done", result.Progress.BytesDone).
		Dur("duration", time.Since(startTime)).
		Msg("hot backup finished")

	return result, nil
}

// Throttle limits the engine's I/O rate for the running and all later backups.
// Zero removes the limit.
func (s *Impl) Throttle(_ context.Context, bytesPerSecond int64) error {
	if bytesPerSecond < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeThrottle, bytesPerSecond)
	}

	s.engine.Throttle(uint64(bytesPerSecond))
	metrics.ThrottleBytesPerSecond.Set(float64(bytesPerSecond))

	s.logger.Info().Int64("bytes_per_second", bytesPerSecond).Msg("backup throttle set")
	return nil
}

// Status returns a copy of the current session's progress.
func (s *Impl) Status(_ context.Context) (models.Progress, error) {
	current := s.registry.Current()
	if current == nil {
		return models.Progress{}, ErrNoBackupRunning
	}
	return current.Progress(), nil
}

// Kill interrupts the current session with reason.
func (s *Impl) Kill(_ context.Context, reason string) error {
	current := s.registry.Current()
	if current == nil {
		return ErrNoBackupRunning
	}

	s.logger.Info().Str("session_id", current.ID()).Str("reason", reason).Msg("killing backup session")
	current.Kill(reason)
	return nil
}

// Version returns the engine's version string.
func (s *Impl) Version(ctx context.Context) (string, error) {
	version, err := s.engine.Version(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get engine version: %w", err)
	}
	return version, nil
}

// CheckEngine verifies the engine can be used and returns its version.
func (s *Impl) CheckEngine(ctx context.Context) (string, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return "", err
	}
	if strings.Contains(version, "disabled") {
		return version, fmt.Errorf("%w: %s", ErrEngineDisabled, version)
	}

	s.logger.Info().Str("version", version).Msg("hot backup engine available")
	return version, nil
}

func (s *Impl) sendNotification(ctx context.Context, startTime time.Time, result *models.StartResult) {
	msg := models.TelegramMessage{
		Success:           result.OK,
		Host:              s.host,
		Destination:       result.Destination,
		StartTime:         startTime,
		Duration:          result.Duration,
		BytesDone:         result.Progress.BytesDone,
		FilesDone:         max(result.Progress.FilesDone, 0),
		FilesTotal:        result.Progress.FilesTotal,
		InterruptedReason: result.InterruptedReason,
	}
	if result.Error != nil {
		msg.ErrorMessage = result.Error.Message
	}

	sent, err := s.telegramSvc.SendNotification(ctx, *s.telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if sent.Error != nil {
		s.logger.Error().Err(sent.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
