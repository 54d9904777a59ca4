package camera

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"
)

func TestYUYVToGrayExtractsLuma(t *testing.T) {
	// 2x2 frame: Y0 U Y1 V Y2 U Y3 V
	raw := []byte{10, 0x80, 20, 0x80, 30, 0x80, 40, 0x80}
	img, err := yuyvToGray(raw, 2, 2)
	if err != nil {
		t.Fatalf("yuyvToGray() error = %v", err)
	}
	want := []byte{10, 20, 30, 40}
	for i, w := range want {
		if img.Pix[i] != w {
			t.Errorf("pixel %d = %d, want %d", i, img.Pix[i], w)
		}
	}
}

func TestYUYVToGrayRejectsShortFrame(t *testing.T) {
	if _, err := yuyvToGray([]byte{1, 2, 3}, 4, 4); !errors.Is(err, errShortFrame) {
		t.Fatalf("error = %v, want errShortFrame", err)
	}
}

func TestRasterizeMJPEG(t *testing.T) {
	var buf bytes.Buffer
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}

	img, err := rasterize(LayoutMJPEG, buf.Bytes(), 8, 8)
	if err != nil {
		t.Fatalf("rasterize() error = %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("width = %d, want 8", img.Bounds().Dx())
	}
}

func TestRasterizeCorruptMJPEG(t *testing.T) {
	if _, err := rasterize(LayoutMJPEG, []byte("not a jpeg"), 8, 8); err == nil {
		t.Error("corrupt jpeg should not rasterize")
	}
}
