package camera

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
)

var errShortFrame = errors.New("frame shorter than expected for resolution")

// rasterize converts raw frame bytes into an image the QR decoder can read.
func rasterize(layout PixelLayout, raw []byte, width, height int) (image.Image, error) {
	switch layout {
	case LayoutMJPEG:
		return jpeg.Decode(bytes.NewReader(raw))
	case LayoutYUYV:
		return yuyvToGray(raw, width, height)
	default:
		return nil, errors.New("unknown pixel layout")
	}
}

// yuyvToGray extracts the luma plane from a packed YUYV frame. QR detection
// only needs luminance, so chroma bytes are skipped outright.
func yuyvToGray(raw []byte, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 || len(raw) < width*height*2 {
		return nil, errShortFrame
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i] = raw[i*2]
	}
	return img, nil
}
