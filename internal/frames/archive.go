package frames

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/replayship/internal/domain"
)

// listFrames returns the frames in dir ordered by capture time.
func listFrames(dir string) ([]domain.FrameRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var frames []domain.FrameRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := domain.ParseFrameFileName(e.Name())
		if !ok {
			continue
		}
		frames = append(frames, domain.FrameRecord{Path: filepath.Join(dir, e.Name()), CapturedAt: ts})
	}
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].CapturedAt < frames[j].CapturedAt
	})
	return frames, nil
}

// listArchives returns the sealed archives in dir ordered by name.
func listArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), domain.ArchiveExt) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// writeArchive packs frames into a tar.gz at path. frames must be sorted.
// Uses atomic write (write to temp file, then rename).
func writeArchive(path string, sessionStart int64, frames []domain.FrameRecord) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for _, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read frame %s: %w", filepath.Base(f.Path), err)
		}
		hdr := &tar.Header{
			Name:    domain.ArchiveEntryName(sessionStart, f.CapturedAt),
			Mode:    0o600,
			Size:    int64(len(data)),
			ModTime: time.UnixMilli(f.CapturedAt),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write tar entry: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ArchiveEntry is one frame read back from an archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// ReadArchive decodes a tar.gz frame archive.
func ReadArchive(r io.Reader) ([]ArchiveEntry, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []ArchiveEntry
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, ArchiveEntry{Name: hdr.Name, Data: data})
	}
}
