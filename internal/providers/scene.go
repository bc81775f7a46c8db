package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"opal/internal/config"
	"opal/internal/services"
)

// Composite scales product down to fit within scale of the scene's size,
// keeping its aspect ratio, and alpha-blends it onto the centre of scene.
func Composite(product, scene image.Image, scale float64) *image.NRGBA {
	sb := scene.Bounds()
	maxW := max(1, int(float64(sb.Dx())*scale))
	maxH := max(1, int(float64(sb.Dy())*scale))
	fitted := imaging.Fit(product, maxW, maxH, imaging.Lanczos)
	fb := fitted.Bounds()
	pos := image.Pt((sb.Dx()-fb.Dx())/2, (sb.Dy()-fb.Dy())/2)
	return imaging.Overlay(scene, fitted, pos, 1.0)
}

// StudioScene renders a neutral gradient backdrop locally and composites
// the product onto it.
type StudioScene struct {
	width, height int
	scale         float64
	top, bottom   color.NRGBA
}

// NewStudioScene builds a backdrop renderer for the given canvas size.
func NewStudioScene(width, height int, scale float64) *StudioScene {
	return &StudioScene{
		width:  width,
		height: height,
		scale:  scale,
		top:    color.NRGBA{R: 246, G: 245, B: 243, A: 255},
		bottom: color.NRGBA{R: 205, G: 202, B: 198, A: 255},
	}
}

func newStudioScene(cfg *config.Config) (Transformer, error) {
	return NewStudioScene(cfg.Providers.SceneWidth, cfg.Providers.SceneHeight, cfg.Providers.ProductScale), nil
}

// Name implements Transformer.
func (s *StudioScene) Name() string { return "studio" }

// Transform implements Transformer.
func (s *StudioScene) Transform(_ context.Context, input []byte) ([]byte, error) {
	product, err := decodeImage("studio", input)
	if err != nil {
		return nil, err
	}
	return encodePNG("studio", Composite(product, s.backdrop(), s.scale))
}

func (s *StudioScene) backdrop() *image.NRGBA {
	img := imaging.New(s.width, s.height, s.top)
	for y := 0; y < s.height; y++ {
		t := float64(y) / float64(max(1, s.height-1))
		c := color.NRGBA{
			R: lerp(s.top.R, s.bottom.R, t),
			G: lerp(s.top.G, s.bottom.G, t),
			B: lerp(s.top.B, s.bottom.B, t),
			A: 255,
		}
		for x := 0; x < s.width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

// HTTPScene asks a text-to-image service for a backdrop and composites the
// product onto it. The service accepts {"prompt", "image_size",
// "num_images"} and answers either with image bytes or with
// {"images":[{"url": ...}]}.
type HTTPScene struct {
	endpoint      string
	apiKey        string
	prompt        string
	width, height int
	scale         float64
	client        *http.Client
}

func newHTTPScene(cfg *config.Config) (Transformer, error) {
	if strings.TrimSpace(cfg.Providers.SceneURL) == "" {
		return nil, fmt.Errorf("scene url not configured")
	}
	return &HTTPScene{
		endpoint: cfg.Providers.SceneURL,
		apiKey:   cfg.Providers.SceneAPIKey,
		prompt:   cfg.Providers.ScenePrompt,
		width:    cfg.Providers.SceneWidth,
		height:   cfg.Providers.SceneHeight,
		scale:    cfg.Providers.ProductScale,
		client:   &http.Client{Timeout: requestTimeout(cfg)},
	}, nil
}

// Name implements Transformer.
func (h *HTTPScene) Name() string { return "http" }

// Transform implements Transformer.
func (h *HTTPScene) Transform(ctx context.Context, input []byte) ([]byte, error) {
	product, err := decodeImage("scene", input)
	if err != nil {
		return nil, err
	}
	sceneBytes, err := h.generate(ctx)
	if err != nil {
		return nil, err
	}
	scene, err := imaging.Decode(bytes.NewReader(sceneBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "scene", "decode backdrop", "service returned an unreadable image", err)
	}
	return encodePNG("scene", Composite(product, scene, h.scale))
}

type sceneRequest struct {
	Prompt    string    `json:"prompt"`
	ImageSize sceneSize `json:"image_size"`
	NumImages int       `json:"num_images"`
}

type sceneSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type sceneResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (h *HTTPScene) generate(ctx context.Context) ([]byte, error) {
	payload, err := json.Marshal(sceneRequest{
		Prompt:    h.prompt,
		ImageSize: sceneSize{Width: h.width, Height: h.height},
		NumImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scene request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build scene request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Key "+h.apiKey)
	}
	data, err := doImageRequest(h.client, req, "scene")
	if err != nil {
		return nil, err
	}
	if !looksLikeJSON(data) {
		return data, nil
	}

	var resp sceneResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "scene", "decode response", "", err)
	}
	if len(resp.Images) == 0 || resp.Images[0].URL == "" {
		return nil, services.Wrap(services.ErrExternalTool, "scene", "decode response", "no image returned", nil)
	}
	imgReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.Images[0].URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build scene download: %w", err)
	}
	return doImageRequest(h.client, imgReq, "scene")
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
