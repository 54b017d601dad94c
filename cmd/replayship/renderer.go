package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var errNoFrame = errors.New("no image in frames directory")

// dirRenderer renders the most recently modified image in a directory.
// Screenshot tools and headless browsers can drop frames there.
type dirRenderer struct {
	dir string
}

func newDirRenderer(dir string) *dirRenderer {
	return &dirRenderer{dir: dir}
}

func (r *dirRenderer) Render(ctx context.Context) (image.Image, error) {
	path, err := r.newest()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (r *dirRenderer) newest() (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", err
	}
	var (
		best    string
		bestMod int64
	)
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = e.Name(), mod
		}
	}
	if best == "" {
		return "", errNoFrame
	}
	return filepath.Join(r.dir, best), nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}
