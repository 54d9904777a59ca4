package camera

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
)

// PixelLayout identifies how raw frame bytes are laid out.
type PixelLayout int

const (
	LayoutMJPEG PixelLayout = iota
	LayoutYUYV
)

// V4L2 fourcc codes for the formats we can rasterize.
const (
	pixFmtMJPEG = webcam.PixelFormat(0x47504A4D) // 'MJPG'
	pixFmtYUYV  = webcam.PixelFormat(0x56595559) // 'YUYV'
)

// Device is the minimal capture surface the session needs. The production
// implementation wraps a V4L2 device; tests inject fakes.
type Device interface {
	// Negotiate picks a pixel format and resolution close to the requested
	// size and returns what the hardware actually agreed to.
	Negotiate(width, height uint32) (PixelLayout, uint32, uint32, error)
	StartStreaming() error
	// WaitFrame blocks until a frame is available or the timeout (seconds)
	// elapses. A timeout is reported as (false, nil): not ready, not an error.
	WaitFrame(timeoutSec uint32) (bool, error)
	ReadFrame() ([]byte, error)
	StopStreaming() error
	Close() error
}

// OpenFunc opens the capture device at the given node path.
type OpenFunc func(path string) (Device, error)

// OpenV4L2 opens a V4L2 capture device.
func OpenV4L2(path string) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, err
	}
	return &v4l2Device{cam: cam}, nil
}

type v4l2Device struct {
	cam *webcam.Webcam
}

func (d *v4l2Device) Negotiate(width, height uint32) (PixelLayout, uint32, uint32, error) {
	supported := d.cam.GetSupportedFormats()

	// MJPEG keeps USB bandwidth low at high resolutions; YUYV is the
	// universal fallback.
	for _, pick := range []struct {
		fmt    webcam.PixelFormat
		layout PixelLayout
	}{
		{pixFmtMJPEG, LayoutMJPEG},
		{pixFmtYUYV, LayoutYUYV},
	} {
		if _, ok := supported[pick.fmt]; !ok {
			continue
		}
		_, w, h, err := d.cam.SetImageFormat(pick.fmt, width, height)
		if err != nil {
			continue
		}
		return pick.layout, w, h, nil
	}
	return 0, 0, 0, fmt.Errorf("no supported pixel format (want MJPEG or YUYV)")
}

func (d *v4l2Device) StartStreaming() error { return d.cam.StartStreaming() }

func (d *v4l2Device) WaitFrame(timeoutSec uint32) (bool, error) {
	err := d.cam.WaitForFrame(timeoutSec)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*webcam.Timeout); ok {
		return false, nil
	}
	return false, err
}

func (d *v4l2Device) ReadFrame() ([]byte, error) { return d.cam.ReadFrame() }

func (d *v4l2Device) StopStreaming() error { return d.cam.StopStreaming() }

func (d *v4l2Device) Close() error { return d.cam.Close() }

// EnumerateDevices lists video capture nodes on the host.
func EnumerateDevices() ([]string, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(nodes)
	return nodes, nil
}
