// Package progress parses the status lines the backup engine reports while copying.
//
// The engine emits a small fixed set of templates:
//
//	Preparing backup
//	Backup progress <bytes> bytes, <n> files. <remaining> more files known of. Copying file <path>
//	Backup progress <bytes> bytes, <n> files. Throttled: copied <done>/<total> bytes of <src> to <dst>. Sleeping <secs>s for throttling.
//	Backup progress <bytes> bytes, <n> files. Copying file: <done>/<total> bytes done of <src> to <dst>.
//
// Anything else is Unrecognized. <n> is the one-based index of the file being copied.
package progress

import (
	"strconv"
	"strings"
	"time"
)

// Literal fragments of the engine's status templates.
const (
	PreparingPrefix = "Preparing backup"

	commonPrefix    = "Backup progress "
	bytesSeparator  = " bytes, "
	filesSeparator  = " files."
	moreFilesMarker = "more files known of"
	moreFilesSuffix = " more files known of. Copying file"
	throttledMarker = "Throttled: copied"
	throttledPrefix = "Throttled: copied "
	throttledBytes  = " bytes of "
	copyingPrefix   = "Copying file: "
	copyingBytes    = " bytes done of "
	pathSeparator   = " to "
	sleepingMarker  = ". Sleeping "
	sleepingSuffix  = "s for throttling."
)

// Outcome is the result of parsing one status line.
type Outcome interface {
	outcome()
}

// Unrecognized means the line matched no template and must be ignored.
type Unrecognized struct {
	Reason string
}

// DirectoryHeader reports how many more files the engine knows about.
type DirectoryHeader struct {
	BytesDone      uint64
	FilesIndex     int64
	FilesRemaining int64
	Path           string
}

// FileTransfer reports progress copying a single file.
type FileTransfer struct {
	BytesDone    uint64
	FilesIndex   int64
	CurrentDone  uint64
	CurrentTotal uint64
	Source       string
	Dest         string
}

// Throttled is a FileTransfer reported while the engine sleeps to honor the throttle.
type Throttled struct {
	FileTransfer
	Sleep time.Duration
}

func (Unrecognized) outcome()    {}
func (DirectoryHeader) outcome() {}
func (FileTransfer) outcome()    {}
func (Throttled) outcome()       {}

// IsPreparing reports whether the line announces the start of a backup.
func IsPreparing(raw string) bool {
	return strings.HasPrefix(raw, PreparingPrefix)
}

// Parse classifies a status line. It never panics; malformed input yields Unrecognized.
func Parse(raw string) Outcome {
	bytesDone, filesIndex, rest, ok := parseCommon(raw)
	if !ok {
		return Unrecognized{Reason: "missing progress prefix"}
	}

	switch {
	case strings.Contains(rest, moreFilesMarker):
		return parseDirectoryHeader(bytesDone, filesIndex, rest)
	case strings.Contains(rest, throttledMarker):
		return parseThrottled(bytesDone, filesIndex, rest)
	default:
		return parseCopying(bytesDone, filesIndex, rest)
	}
}

// parseCommon consumes "Backup progress <bytes> bytes, <n> files. " and returns the remainder.
func parseCommon(raw string) (bytesDone uint64, filesIndex int64, rest string, ok bool) {
	s, found := strings.CutPrefix(raw, commonPrefix)
	if !found {
		return 0, 0, "", false
	}

	field, s, found := strings.Cut(s, bytesSeparator)
	if !found {
		return 0, 0, "", false
	}
	bytesDone, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, 0, "", false
	}

	field, s, found = strings.Cut(s, filesSeparator)
	if !found {
		return 0, 0, "", false
	}
	filesIndex, err = strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, 0, "", false
	}

	return bytesDone, filesIndex, trimBlank(s), true
}

func parseDirectoryHeader(bytesDone uint64, filesIndex int64, rest string) Outcome {
	field, path, found := strings.Cut(rest, moreFilesSuffix)
	if !found {
		return Unrecognized{Reason: "malformed directory header"}
	}
	remaining, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return Unrecognized{Reason: "malformed remaining file count"}
	}

	path = trimBlank(path)
	if path == "" {
		return Unrecognized{Reason: "missing path"}
	}
	// "." is the top-level directory itself, not a file worth recording.
	if path == "." {
		return Unrecognized{Reason: "top-level directory"}
	}

	return DirectoryHeader{
		BytesDone:      bytesDone,
		FilesIndex:     filesIndex,
		FilesRemaining: remaining,
		Path:           path,
	}
}

func parseThrottled(bytesDone uint64, filesIndex int64, rest string) Outcome {
	s, found := strings.CutPrefix(rest, throttledPrefix)
	if !found {
		return Unrecognized{Reason: "malformed throttled message"}
	}

	done, total, s, ok := parseFraction(s, throttledBytes)
	if !ok {
		return Unrecognized{Reason: "malformed throttled byte counts"}
	}

	idx := strings.LastIndex(s, sleepingMarker)
	if idx < 0 {
		return Unrecognized{Reason: "missing sleep duration"}
	}
	paths, sleeping := s[:idx], trimBlank(s[idx+len(sleepingMarker):])

	source, dest, ok := splitPaths(paths)
	if !ok {
		return Unrecognized{Reason: "malformed throttled paths"}
	}

	field, found := strings.CutSuffix(sleeping, sleepingSuffix)
	if !found {
		return Unrecognized{Reason: "malformed sleep duration"}
	}
	secs, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return Unrecognized{Reason: "malformed sleep duration"}
	}

	return Throttled{
		FileTransfer: FileTransfer{
			BytesDone:    bytesDone,
			FilesIndex:   filesIndex,
			CurrentDone:  done,
			CurrentTotal: total,
			Source:       source,
			Dest:         dest,
		},
		Sleep: time.Duration(secs * float64(time.Second)),
	}
}

func parseCopying(bytesDone uint64, filesIndex int64, rest string) Outcome {
	s, found := strings.CutPrefix(rest, copyingPrefix)
	if !found {
		return Unrecognized{Reason: "unknown message"}
	}

	done, total, s, ok := parseFraction(s, copyingBytes)
	if !ok {
		return Unrecognized{Reason: "malformed byte counts"}
	}

	source, dest, ok := splitPaths(strings.TrimSuffix(s, "."))
	if !ok {
		return Unrecognized{Reason: "malformed paths"}
	}

	return FileTransfer{
		BytesDone:    bytesDone,
		FilesIndex:   filesIndex,
		CurrentDone:  done,
		CurrentTotal: total,
		Source:       source,
		Dest:         dest,
	}
}

// parseFraction consumes "<done>/<total><sep>" and returns what follows, leading blanks trimmed.
func parseFraction(s, sep string) (done, total uint64, rest string, ok bool) {
	field, rest, found := strings.Cut(s, sep)
	if !found {
		return 0, 0, "", false
	}
	doneField, totalField, found := strings.Cut(field, "/")
	if !found {
		return 0, 0, "", false
	}

	done, err := strconv.ParseUint(doneField, 10, 64)
	if err != nil {
		return 0, 0, "", false
	}
	total, err = strconv.ParseUint(totalField, 10, 64)
	if err != nil {
		return 0, 0, "", false
	}

	return done, total, trimBlank(rest), true
}

func splitPaths(s string) (source, dest string, ok bool) {
	source, dest, found := strings.Cut(s, pathSeparator)
	if !found || source == "" || dest == "" {
		return "", "", false
	}
	return source, dest, true
}

func trimBlank(s string) string {
	return strings.TrimLeft(s, " \t")
}
