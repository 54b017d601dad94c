package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// FrameExt is the extension of captured frame files.
	FrameExt = ".jpeg"

	// ArchiveExt is the extension of sealed frame archives.
	ArchiveExt = ".tar.gz"
)

// FrameRecord is a captured frame persisted in the screenshot folder.
type FrameRecord struct {
	// Path is the absolute file path
	Path string

	// CapturedAt is the capture time in unix milliseconds
	CapturedAt int64
}

// FrameFileName returns the on-disk name for a frame captured at ts.
func FrameFileName(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMilli(), 10) + FrameExt
}

// ParseFrameFileName extracts the capture timestamp from a frame file name.
func ParseFrameFileName(name string) (int64, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, FrameExt) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(base, FrameExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ArchiveEntryName is the name of a frame inside an archive:
// <session-start-ms>_1_<frame-ms>.jpeg
func ArchiveEntryName(sessionStart, frameTs int64) string {
	return fmt.Sprintf("%d_1_%d%s", sessionStart, frameTs, FrameExt)
}

// ArchiveFileName is the name of a sealed archive:
// <session-id>-<last-frame-ms>.tar.gz
func ArchiveFileName(sessionID string, lastFrameTs int64) string {
	return fmt.Sprintf("%s-%d%s", sessionID, lastFrameTs, ArchiveExt)
}
