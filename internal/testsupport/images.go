package testsupport

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
)

// PNG encodes a w×h image filled with fill.
func PNG(t testing.TB, w, h int, fill color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// ProductPNG draws a square product of colour fg centred on a flat bg.
func ProductPNG(t testing.TB, size int, bg, fg color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	lo, hi := size/4, size-size/4
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x >= lo && x < hi && y >= lo && y < hi {
				img.Set(x, y, fg)
			} else {
				img.Set(x, y, bg)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// DecodeImage decodes data or fails the test.
func DecodeImage(t testing.TB, data []byte) image.Image {
	t.Helper()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	return img
}

// FakeTransformer appends Tag to its input and counts calls. Err, when
// set, is returned instead.
type FakeTransformer struct {
	Label string
	Tag   string
	Err   error

	mu     sync.Mutex
	calls  int
	inputs [][]byte
}

// Name implements providers.Transformer.
func (f *FakeTransformer) Name() string {
	if f.Label == "" {
		return "fake"
	}
	return f.Label
}

// Transform implements providers.Transformer.
func (f *FakeTransformer) Transform(_ context.Context, input []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, append([]byte(nil), input...))
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]byte, 0, len(input)+len(f.Tag))
	out = append(out, input...)
	return append(out, f.Tag...), nil
}

// Calls reports how many times Transform ran.
func (f *FakeTransformer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastInput returns the input of the most recent call.
func (f *FakeTransformer) LastInput() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}
