package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// RecordingExt is the extension of every finalized recording
	RecordingExt = ".wav"

	// URLPrefix is where the HTTP front end serves the base directory
	URLPrefix = "/recordings"

	// UnknownSource is displayed when a file name carries no source id
	UnknownSource = "Unknown"

	filePrefix = "transmission_"

	// maxCollisionRetries bounds the millisecond bump on name collisions
	maxCollisionRetries = 1000
)

// ErrInvalidSegment is returned for ids that cannot be used as a path segment
var ErrInvalidSegment = errors.New("invalid path segment")

var digitsRe = regexp.MustCompile(`\d+`)

// Layout derives directories and file names under a base directory
type Layout struct {
	baseDir string
}

// NewLayout creates the base directory if needed
func NewLayout(baseDir string) (*Layout, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
	}

	return &Layout{baseDir: baseDir}, nil
}

// BaseDir returns the root of the recordings tree
func (l *Layout) BaseDir() string {
	return l.baseDir
}

// NetworkDir returns baseDir/<network>
func (l *Layout) NetworkDir(network string) (string, error) {
	if err := ValidateSegment(network); err != nil {
		return "", fmt.Errorf("network %q: %w", network, err)
	}
	return filepath.Join(l.baseDir, network), nil
}

// TalkgroupDir returns baseDir/<network>/<destination>
func (l *Layout) TalkgroupDir(network, destinationID string) (string, error) {
	networkDir, err := l.NetworkDir(network)
	if err != nil {
		return "", err
	}
	if err := ValidateSegment(destinationID); err != nil {
		return "", fmt.Errorf("destination %q: %w", destinationID, err)
	}
	return filepath.Join(networkDir, destinationID), nil
}

// EnsureNetworkDir creates baseDir/<network>; it is safe to call repeatedly
func (l *Layout) EnsureNetworkDir(network string) (string, error) {
	dir, err := l.NetworkDir(network)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create network directory %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureTalkgroupDir creates baseDir/<network>/<destination>; it is safe to call repeatedly.
// created reports whether the directory did not exist before the call.
func (l *Layout) EnsureTalkgroupDir(network, destinationID string) (dir string, created bool, err error) {
	dir, err = l.TalkgroupDir(network, destinationID)
	if err != nil {
		return "", false, err
	}

	if _, statErr := os.Stat(dir); errors.Is(statErr, os.ErrNotExist) {
		created = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create talkgroup directory %s: %w", dir, err)
	}
	return dir, created, nil
}

// Allocation is a freshly created, empty recording file
type Allocation struct {
	File      *os.File
	Path      string
	CreatedAt time.Time
	// DirCreated is set when the talkgroup directory was created for this file
	DirCreated bool
}

// CreateRecording creates the talkgroup directory and an empty recording file.
// The file is opened exclusively; if the name is taken the millisecond component
// is bumped, so the returned CreatedAt may be later than the requested one.
func (l *Layout) CreateRecording(network, destinationID, sourceID string, createdAt time.Time) (*Allocation, error) {
	if err := ValidateSegment(sourceID); err != nil {
		return nil, fmt.Errorf("source %q: %w", sourceID, err)
	}

	dir, created, err := l.EnsureTalkgroupDir(network, destinationID)
	if err != nil {
		return nil, err
	}

	ts := createdAt.Truncate(time.Millisecond)
	for i := 0; i < maxCollisionRetries; i++ {
		p := filepath.Join(dir, FileName(sourceID, ts))
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return &Allocation{File: f, Path: p, CreatedAt: ts, DirCreated: created}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create recording %s: %w", p, err)
		}
		ts = ts.Add(time.Millisecond)
	}

	return nil, fmt.Errorf("failed to allocate recording name for source %s in %s", sourceID, dir)
}

// FileName returns transmission_<source>_<millis>.wav
func FileName(sourceID string, createdAt time.Time) string {
	return filePrefix + sourceID + "_" + strconv.FormatInt(createdAt.UnixMilli(), 10) + RecordingExt
}

// ParseSourceID returns the first run of digits in a recording file name
func ParseSourceID(fileName string) string {
	if m := digitsRe.FindString(fileName); m != "" {
		return m
	}
	return UnknownSource
}

// ParseTimestamp extracts the creation time from a name produced by FileName
func ParseTimestamp(fileName string) (time.Time, bool) {
	name := strings.TrimSuffix(fileName, RecordingExt)
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 || !strings.HasPrefix(name, filePrefix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// RelativeURL returns the path under which the HTTP front end serves a recording
func RelativeURL(network, destinationID, fileName string) string {
	return path.Join(URLPrefix, network, destinationID, fileName)
}

// ValidateSegment rejects values that would escape or break the directory layout
func ValidateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidSegment)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	case strings.ContainsAny(s, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSegment, s)
	}
	return nil
}
