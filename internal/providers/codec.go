package providers

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"

	"opal/internal/services"
)

func decodeImage(stage string, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrValidation, stage, "decode image", "input is empty", nil)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stage, "decode image", "input is not a supported image", err)
	}
	return img, nil
}

func encodePNG(stage string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stage, "encode png", "", err)
	}
	return buf.Bytes(), nil
}
