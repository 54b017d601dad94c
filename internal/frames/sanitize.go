package frames

import (
	"image"
	"image/color"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// Stripe pattern geometry for masked regions.
const (
	stripeSpacing = 24
	stripeWidth   = 4
)

var (
	maskBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	maskStripe     = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
)

// Sanitizer masks registered regions of a frame with a cross-striped pattern.
type Sanitizer struct {
	mu      sync.RWMutex
	regions map[string]image.Rectangle
}

// NewSanitizer creates a sanitizer with no regions.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{regions: make(map[string]image.Rectangle)}
}

// Add registers or replaces the region with the given id.
func (s *Sanitizer) Add(id string, r image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[id] = r.Canon()
}

// Remove unregisters a region. Unknown ids are ignored.
func (s *Sanitizer) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, id)
}

// Regions returns the registered regions ordered by id.
func (s *Sanitizer) Regions() []image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]image.Rectangle, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.regions[id])
	}
	return out
}

// Apply returns img with every region masked. img is not modified; when no
// region intersects it, img is returned as is.
func (s *Sanitizer) Apply(img image.Image) image.Image {
	regions := s.Regions()
	bounds := img.Bounds()

	var dst *image.RGBA
	for _, r := range regions {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		if dst == nil {
			dst = image.NewRGBA(bounds)
			draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
		}
		maskRegion(dst, r)
	}
	if dst == nil {
		return img
	}
	return dst
}

// maskRegion paints diagonal stripes in both directions over a white fill.
func maskRegion(dst *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			rx, ry := x-r.Min.X, y-r.Min.Y
			if mod(rx-ry, stripeSpacing) < stripeWidth || mod(rx+ry, stripeSpacing) < stripeWidth {
				dst.SetRGBA(x, y, maskStripe)
			} else {
				dst.SetRGBA(x, y, maskBackground)
			}
		}
	}
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
