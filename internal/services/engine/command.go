package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/rs/zerolog"
)

// ThrottleEnv carries the throttle in effect when an engine process starts.
const ThrottleEnv = "HOTBACKUP_THROTTLE"

// maxLineSize bounds a single line on the engine's stdout.
const maxLineSize = 1024 * 1024

// waitDelay bounds how long Wait blocks on output after the process exits or is killed.
const waitDelay = 5 * time.Second

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Command drives an engine executable. The executable receives
// "--source S --dest D" for every directory pair and reports on stdout:
//
//	poll <fraction> <status text>
//	error <code> <message>
//
// While it runs, throttle changes are written to its stdin as "throttle <bps>".
type Command struct {
	cfg      models.EngineConfig
	executor CommandExecutor
	logger   zerolog.Logger

	mu   sync.Mutex
	rate uint64
	feed *throttleFeed // throttle updates for the most recently started process
}

// throttleFeed hands throttle updates to the goroutine writing a process's stdin.
// It holds at most one pending update so a stalled engine never blocks Throttle.
type throttleFeed struct {
	updates chan uint64
	done    chan struct{}
}

// offer queues bps, replacing any update the writer has not picked up yet.
// Callers serialize offers under Command.mu.
func (f *throttleFeed) offer(bps uint64) {
	select {
	case f.updates <- bps:
		return
	default:
	}
	select {
	case <-f.updates:
	default:
	}
	select {
	case f.updates <- bps:
	default:
	}
}

// NewCommand creates an engine adapter for the configured executable.
func NewCommand(logger zerolog.Logger, cfg models.EngineConfig) *Command {
	return NewCommandWithExecutor(logger, cfg, &DefaultExecutor{})
}

// NewCommandWithExecutor creates an engine adapter with a custom executor (for testing).
func NewCommandWithExecutor(logger zerolog.Logger, cfg models.EngineConfig, executor CommandExecutor) *Command {
	return &Command{
		cfg:      cfg,
		executor: executor,
		logger:   logger.With().Str("engine", cfg.Command).Logger(),
	}
}

// Version runs the executable with the configured version arguments.
func (e *Command) Version(ctx context.Context) (string, error) {
	output, err := e.executor.Execute(ctx, e.cfg.Command, e.cfg.VersionArgs...)
	if err != nil {
		return "", fmt.Errorf("failed to query engine version: %w, output: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Throttle records the rate and forwards it to a running engine process.
func (e *Command) Throttle(bytesPerSecond uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rate = bytesPerSecond
	if e.feed != nil {
		e.feed.offer(bytesPerSecond)
	}
}

// CreateBackup runs the executable and relays its reports to cb until it exits.
func (e *Command) CreateBackup(sources, destinations []string, cb Callbacks) int {
	if len(sources) == 0 || len(sources) != len(destinations) {
		cb.Error(int(syscall.EINVAL), "source and destination directories do not match")
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	args := append([]string{}, e.cfg.Args...)
	for i := range sources {
		args = append(args, "--source", sources[i], "--dest", destinations[i])
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, args...) //nolint:gosec // command comes from config
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", ThrottleEnv, e.currentRate()))
	cmd.Stderr = e.logger.With().Str("stream", "stderr").Logger()
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cb.Error(errnoOf(err), fmt.Sprintf("could not attach engine stdin: %v", err))
		return -1
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cb.Error(errnoOf(err), fmt.Sprintf("could not attach engine stdout: %v", err))
		return -1
	}

	e.logger.Debug().Strs("args", args).Msg("starting engine process")
	if err := cmd.Start(); err != nil {
		cb.Error(errnoOf(err), fmt.Sprintf("could not start backup engine: %v", err))
		return -1
	}

	feed := e.attach(stdin)
	defer e.detach(feed)

	// Callbacks run on a goroutine owned by the engine, never on the caller's.
	abortCh := make(chan bool, 1)
	go func() {
		abortCh <- e.relay(stdout, cb)
	}()
	aborted := <-abortCh
	if aborted {
		cancel()
	}

	err = cmd.Wait()
	switch {
	case aborted:
		cb.Error(AbortCode, AbortMessage)
		return -1
	case err == nil:
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		e.logger.Debug().Int("exit_code", exitErr.ExitCode()).Msg("engine process failed")
		return exitErr.ExitCode()
	}
	e.logger.Debug().Err(err).Msg("engine process terminated")
	return -1
}

// relay reads engine reports until EOF. It returns true when a poll asked to abort.
func (e *Command) relay(r io.Reader, cb Callbacks) bool {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		kind, payload, _ := strings.Cut(line, " ")

		switch kind {
		case "poll":
			field, status, _ := strings.Cut(payload, " ")
			fraction, err := strconv.ParseFloat(field, 64)
			if err != nil {
				e.logger.Debug().Str("line", line).Msg("malformed poll report")
				continue
			}
			if cb.Poll(fraction, status) != 0 {
				return true
			}
		case "error":
			field, message, _ := strings.Cut(payload, " ")
			code, err := strconv.Atoi(field)
			if err != nil {
				e.logger.Debug().Str("line", line).Msg("malformed error report")
				continue
			}
			cb.Error(code, message)
		default:
			e.logger.Debug().Str("line", line).Msg("engine output")
		}
	}

	if err := scanner.Err(); err != nil {
		e.logger.Warn().Err(err).Msg("reading engine output")
		// Drain so the process is not blocked writing to a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return false
}

func (e *Command) currentRate() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Command) attach(stdin io.Writer) *throttleFeed {
	feed := &throttleFeed{
		updates: make(chan uint64, 1),
		done:    make(chan struct{}),
	}
	go e.forwardThrottle(stdin, feed)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.feed = feed
	return feed
}

func (e *Command) detach(feed *throttleFeed) {
	close(feed.done)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feed == feed {
		e.feed = nil
	}
}

// forwardThrottle writes throttle updates to the engine's stdin until the process ends.
// A write blocked on a full pipe is released when Wait closes stdin.
func (e *Command) forwardThrottle(stdin io.Writer, feed *throttleFeed) {
	for {
		select {
		case <-feed.done:
			return
		case bps := <-feed.updates:
			if _, err := fmt.Fprintf(stdin, "throttle %d\n", bps); err != nil {
				e.logger.Warn().Err(err).Uint64("bps", bps).Msg("could not forward throttle to engine")
				return
			}
		}
	}
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return int(syscall.EIO)
}
