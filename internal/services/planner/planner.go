// Package planner decides which directories a hot backup copies and where they land.
package planner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Destination subdirectories used when data and log directories are copied separately.
const (
	DataSubdir = "data"
	LogSubdir  = "log"
)

// DefaultDirMode is used for created destination subdirectories when none is configured.
const DefaultDirMode os.FileMode = 0o750

var (
	// ErrCreateDataDir is returned when the data destination cannot be created.
	ErrCreateDataDir = errors.New("could not create data directory")
	// ErrCreateLogDir is returned when the log destination cannot be created.
	ErrCreateLogDir = errors.New("could not create log directory")
)

// Pair is one source directory and the directory it is copied into.
type Pair struct {
	Source      string
	Destination string
}

// Plan lists the pairs handed to the engine and the directories to create beforehand.
type Plan struct {
	Pairs      []Pair
	CreateDirs []string
}

// Sources returns the source directories in engine order.
func (p Plan) Sources() []string {
	out := make([]string, len(p.Pairs))
	for i, pair := range p.Pairs {
		out[i] = pair.Source
	}
	return out
}

// Destinations returns the destination directories in engine order.
func (p Plan) Destinations() []string {
	out := make([]string, len(p.Pairs))
	for i, pair := range p.Pairs {
		out[i] = pair.Destination
	}
	return out
}

// Service defines the interface for directory planning.
type Service interface {
	Plan(dataDir, logDir, destination string) (Plan, error)
	Prepare(plan Plan) error
}

// Impl implements the planner Service interface.
type Impl struct {
	fs      afero.Fs
	dirMode os.FileMode
	logger  zerolog.Logger
}

// New creates a planner operating on the real filesystem.
func New(logger zerolog.Logger, dirMode os.FileMode) *Impl {
	return NewWithFs(logger, afero.NewOsFs(), dirMode)
}

// NewWithFs creates a planner on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs, dirMode os.FileMode) *Impl {
	if dirMode == 0 {
		dirMode = DefaultDirMode
	}
	return &Impl{
		fs:      fs,
		dirMode: dirMode,
		logger:  logger,
	}
}

// Plan computes the directory pairs for a backup into destination.
func (s *Impl) Plan(dataDir, logDir, destination string) (Plan, error) {
	return Compute(dataDir, logDir, destination)
}

// Prepare creates the destination subdirectories the plan needs, in order.
// The first failure aborts and is tagged with ErrCreateDataDir or ErrCreateLogDir.
func (s *Impl) Prepare(plan Plan) error {
	for i, dir := range plan.CreateDirs {
		s.logger.Debug().Str("dir", dir).Msg("creating backup destination directory")

		if err := s.fs.Mkdir(dir, s.dirMode); err != nil {
			tag := ErrCreateDataDir
			if i > 0 {
				tag = ErrCreateLogDir
			}
			return fmt.Errorf("%w: %w", tag, err)
		}
	}
	return nil
}

// Compute is the pure planning rule. A separate log stream is copied only when logDir is set
// and lies outside dataDir; then the copies go to <destination>/data and <destination>/log.
// Otherwise dataDir is copied straight into destination.
func Compute(dataDir, logDir, destination string) (Plan, error) {
	data, err := canonical(dataDir)
	if err != nil {
		return Plan{}, fmt.Errorf("resolving data directory: %w", err)
	}

	needLog, err := SeparateLogNeeded(data, logDir)
	if err != nil {
		return Plan{}, err
	}

	if !needLog {
		return Plan{
			Pairs: []Pair{{Source: data, Destination: destination}},
		}, nil
	}

	log, err := canonical(logDir)
	if err != nil {
		return Plan{}, fmt.Errorf("resolving log directory: %w", err)
	}

	dataDest := filepath.Join(destination, DataSubdir)
	logDest := filepath.Join(destination, LogSubdir)

	return Plan{
		Pairs: []Pair{
			{Source: data, Destination: dataDest},
			{Source: log, Destination: logDest},
		},
		CreateDirs: []string{dataDest, logDest},
	}, nil
}

// SeparateLogNeeded reports whether logDir needs its own backup stream.
func SeparateLogNeeded(dataDir, logDir string) (bool, error) {
	if logDir == "" {
		return false, nil
	}

	data, err := canonical(dataDir)
	if err != nil {
		return false, fmt.Errorf("resolving data directory: %w", err)
	}
	log, err := canonical(logDir)
	if err != nil {
		return false, fmt.Errorf("resolving log directory: %w", err)
	}

	return !IsSubPath(data, log), nil
}

// IsSubPath reports whether child equals parent or lies beneath it.
// Both paths must already be canonical. The comparison is separator aligned,
// so /data2 is not under /data.
func IsSubPath(parent, child string) bool {
	if child == parent {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

func canonical(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	return filepath.Abs(path)
}
