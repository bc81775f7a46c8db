package providers

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"opal/internal/config"
)

// ChromaKey removes a flat backdrop by making every pixel close to the
// corner colour transparent.
type ChromaKey struct {
	tolerance float64
}

// NewChromaKey builds a keyer. tolerance is the normalised RGB distance
// (0..1) under which a pixel counts as background.
func NewChromaKey(tolerance float64) *ChromaKey {
	return &ChromaKey{tolerance: tolerance}
}

func newChromaKey(cfg *config.Config) (Transformer, error) {
	return NewChromaKey(cfg.Providers.ChromaTolerance), nil
}

// Name implements Transformer.
func (c *ChromaKey) Name() string { return "chromakey" }

// Transform implements Transformer.
func (c *ChromaKey) Transform(ctx context.Context, input []byte) ([]byte, error) {
	src, err := decodeImage("chromakey", input)
	if err != nil {
		return nil, err
	}
	img := imaging.Clone(src)
	key := cornerColour(img)
	limit := c.tolerance * math.Sqrt(3) * 255

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		if y%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row := img.Pix[(y-bounds.Min.Y)*img.Stride:]
		for x := 0; x < bounds.Dx(); x++ {
			px := row[x*4 : x*4+4]
			dr := float64(px[0]) - key[0]
			dg := float64(px[1]) - key[1]
			db := float64(px[2]) - key[2]
			if math.Sqrt(dr*dr+dg*dg+db*db) <= limit {
				px[3] = 0
			}
		}
	}
	return encodePNG("chromakey", img)
}

// cornerColour averages the four corner pixels.
func cornerColour(img *image.NRGBA) [3]float64 {
	b := img.Bounds()
	corners := []image.Point{
		{b.Min.X, b.Min.Y},
		{b.Max.X - 1, b.Min.Y},
		{b.Min.X, b.Max.Y - 1},
		{b.Max.X - 1, b.Max.Y - 1},
	}
	var sum [3]float64
	for _, p := range corners {
		c := img.NRGBAAt(p.X, p.Y)
		sum[0] += float64(c.R)
		sum[1] += float64(c.G)
		sum[2] += float64(c.B)
	}
	for i := range sum {
		sum[i] /= float64(len(corners))
	}
	return sum
}
