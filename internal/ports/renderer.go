package ports

import (
	"context"
	"image"
)

// Renderer renders the host's current UI surface into a raster image.
// Render may block; callers bound it with a context deadline.
type Renderer interface {
	Render(ctx context.Context) (image.Image, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context) (image.Image, error)

// Render calls f(ctx).
func (f RendererFunc) Render(ctx context.Context) (image.Image, error) {
	return f(ctx)
}
