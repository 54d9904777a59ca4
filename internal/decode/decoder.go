// Package decode runs the frame-sampling loop that turns a live camera
// stream into a structured attendance payload.
package decode

import (
	"context"
	"image"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"scanstation/internal/metrics"
)

// FrameSource yields rasterized frames from an active camera stream.
// ready=false means no frame was available this tick (stream buffering).
type FrameSource interface {
	Frame() (img image.Image, ready bool, err error)
}

// Result is the outcome of one successful decode cycle.
type Result struct {
	Text      string
	Payload   Payload
	DecodedAt time.Time
}

// Decoder samples frames on a fixed cadence and tries QR decoding against
// each one. Ticks are strictly sequential: a new capture never starts while
// the previous frame is still being processed.
type Decoder struct {
	source   FrameSource
	interval time.Duration

	// OnInvalid is called when a symbol decodes but its payload cannot be
	// interpreted. Sampling continues afterwards.
	OnInvalid func(text string, err error)
}

// New creates a decoder sampling at the given interval (default 500ms).
func New(source FrameSource, interval time.Duration) *Decoder {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Decoder{source: source, interval: interval}
}

// Run samples until a structurally valid payload is decoded or ctx is
// cancelled. Frames with no QR symbol are the common case and are skipped
// silently; invalid payloads are reported via OnInvalid and sampling
// resumes. Frame source failures end the run.
func (d *Decoder) Run(ctx context.Context) (Result, error) {
	reader := qrcode.NewQRCodeReader()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		img, ready, err := d.source.Frame()
		if err != nil {
			return Result{}, err
		}
		if !ready || img == nil {
			continue
		}
		metrics.FramesSampled.Inc()

		text, ok := decodeSymbol(reader, img)
		if !ok {
			continue
		}
		metrics.DecodeHits.Inc()

		payload, perr := ParsePayload(text)
		if perr != nil {
			metrics.InvalidPayloads.Inc()
			if d.OnInvalid != nil {
				d.OnInvalid(text, perr)
			}
			continue
		}
		return Result{Text: text, Payload: payload, DecodedAt: time.Now().UTC()}, nil
	}
}

// decodeSymbol runs the QR reader over one frame. Absence of a symbol is
// not an error, just a miss.
func decodeSymbol(reader gozxing.Reader, img image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	result, err := reader.Decode(bmp, nil)
	if err != nil {
		// NotFoundException and friends: keep sampling.
		return "", false
	}
	return result.GetText(), true
}
