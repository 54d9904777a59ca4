package decode

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	qrgen "github.com/skip2/go-qrcode"
)

// fakeSource replays a fixed sequence of frames, repeating the last one.
type fakeSource struct {
	mu     sync.Mutex
	frames []frameResp
	served int
}

type frameResp struct {
	img   image.Image
	ready bool
	err   error
}

func (f *fakeSource) Frame() (image.Image, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.served
	if i >= len(f.frames) {
		i = len(f.frames) - 1
	}
	f.served++
	r := f.frames[i]
	return r.img, r.ready, r.err
}

func qrImage(t *testing.T, text string) image.Image {
	t.Helper()
	qr, err := qrgen.New(text, qrgen.Medium)
	if err != nil {
		t.Fatalf("generate qr: %v", err)
	}
	return qr.Image(256)
}

func blankImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 64, 64))
}

func TestRunDecodesValidPayload(t *testing.T) {
	src := &fakeSource{frames: []frameResp{
		{ready: false},                   // stream still buffering
		{img: blankImage(), ready: true}, // no symbol
		{img: qrImage(t, `{"indexNumber":"ST1001","name":"Amal"}`), ready: true},
	}}
	d := New(src, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Payload.IndexNumber != "ST1001" {
		t.Errorf("IndexNumber = %q, want ST1001", res.Payload.IndexNumber)
	}
	if res.DecodedAt.IsZero() {
		t.Error("DecodedAt not set")
	}
}

func TestRunKeepsSamplingWithoutSymbol(t *testing.T) {
	src := &fakeSource{frames: []frameResp{{img: blankImage(), ready: true}}}
	d := New(src, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	src.mu.Lock()
	served := src.served
	src.mu.Unlock()
	if served < 2 {
		t.Errorf("decoder sampled %d frames, expected continued sampling", served)
	}
}

func TestRunReportsInvalidPayloadAndContinues(t *testing.T) {
	src := &fakeSource{frames: []frameResp{
		{img: qrImage(t, "hello there, not a code"), ready: true},
		{img: qrImage(t, "ST1002"), ready: true},
	}}
	d := New(src, time.Millisecond)

	var invalid []string
	var mu sync.Mutex
	d.OnInvalid = func(text string, err error) {
		mu.Lock()
		invalid = append(invalid, text)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Payload.IndexNumber != "ST1002" {
		t.Errorf("IndexNumber = %q, want ST1002", res.Payload.IndexNumber)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(invalid) == 0 {
		t.Error("OnInvalid was not called for the rejected payload")
	}
}

func TestRunStopsOnFrameError(t *testing.T) {
	wantErr := errors.New("camera unplugged")
	src := &fakeSource{frames: []frameResp{{err: wantErr}}}
	d := New(src, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := d.Run(ctx)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	src := &fakeSource{frames: []frameResp{{ready: false}}}
	d := New(src, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
