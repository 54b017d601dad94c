package frames

import (
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/bft-labs/replayship/internal/ports"
)

// Archive folder watermarks. Archives pile up while uploads fail or when
// uploaded archives are kept.
const (
	DefaultArchiveHighWatermark int64 = 256 << 20
	DefaultArchiveLowWatermark  int64 = 192 << 20
)

// archiveFile is one sealed archive on disk.
type archiveFile struct {
	path    string
	size    int64
	modTime int64
}

// pruneArchives removes the oldest archives once the folder grows past
// high, until it is at or below low. It returns the bytes freed.
func pruneArchives(paths []string, high, low int64, logger ports.Logger) int64 {
	if high <= 0 {
		return 0
	}

	files := make([]archiveFile, 0, len(paths))
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{path: p, size: info.Size(), modTime: info.ModTime().UnixNano()})
		total += info.Size()
	}
	if total <= high {
		return 0
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime < files[j].modTime
	})

	var freed int64
	for _, f := range files {
		if total <= low {
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("archive retention: remove failed", ports.String("archive", f.path), ports.Err(err))
			continue
		}
		total -= f.size
		freed += f.size
	}

	if freed > 0 {
		logger.Warn("archive retention dropped old archives",
			ports.Int64("bytes_freed", freed),
			ports.Int64("bytes_kept", total),
		)
	}
	return freed
}
