package providers

import (
	"context"

	"github.com/disintegration/imaging"

	"opal/internal/config"
	"opal/internal/services"
)

// maxUpscaledPixels keeps a single upscale from exhausting memory.
const maxUpscaledPixels = 64 << 20

// Lanczos enlarges images by an integer factor with Lanczos resampling.
type Lanczos struct {
	factor int
}

// NewLanczos builds an upscaler. Factors below 1 are treated as 1.
func NewLanczos(factor int) *Lanczos {
	return &Lanczos{factor: max(1, factor)}
}

func newLanczos(cfg *config.Config) (Transformer, error) {
	return NewLanczos(cfg.Providers.UpscaleFactor), nil
}

// Name implements Transformer.
func (l *Lanczos) Name() string { return "lanczos" }

// Transform implements Transformer.
func (l *Lanczos) Transform(_ context.Context, input []byte) ([]byte, error) {
	src, err := decodeImage("upscale", input)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx()*l.factor, b.Dy()*l.factor
	if w*h > maxUpscaledPixels {
		return nil, services.Wrap(services.ErrValidation, "upscale", "resize", "image too large to upscale", nil)
	}
	return encodePNG("upscale", imaging.Resize(src, w, h, imaging.Lanczos))
}
