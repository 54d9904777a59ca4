package camera

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
)

// Permission is the access state of the session.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Facing selects which physical camera a session requests.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Causes attached to acquisition failures.
const (
	CausePermissionDenied = "permission-denied"
	CauseNoCamera         = "no-camera-found"
	CauseUnsupported      = "unsupported-device"
)

// AcquireError is a classified camera acquisition failure. Acquisition
// failures are terminal for the attempt; the caller retries explicitly.
type AcquireError struct {
	Cause string
	Err   error
}

func (e *AcquireError) Error() string {
	if e.Err == nil {
		return e.Cause
	}
	return fmt.Sprintf("%s: %v", e.Cause, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Config controls how a Session acquires devices.
type Config struct {
	BackDevice  string // node used for FacingEnvironment
	FrontDevice string // node used for FacingUser
	Facing      Facing
	Width       uint32
	Height      uint32

	// Open and Enumerate default to the V4L2 implementations.
	Open      OpenFunc
	Enumerate func() ([]string, error)
}

// Session owns at most one open camera stream. Starting a new stream always
// releases the previous one first, so device handles never leak across
// facing switches or restarts.
type Session struct {
	cfg Config

	// captureMu serializes frame capture with device open/close, so a
	// facing switch or re-acquire never closes the device out from under
	// an in-flight frame wait.
	captureMu sync.Mutex

	mu         sync.Mutex
	permission Permission
	facing     Facing
	devicePath string
	dev        Device
	layout     PixelLayout
	width      uint32
	height     uint32
}

// NewSession creates an inactive session.
func NewSession(cfg Config) *Session {
	if cfg.Open == nil {
		cfg.Open = OpenV4L2
	}
	if cfg.Enumerate == nil {
		cfg.Enumerate = EnumerateDevices
	}
	if cfg.Facing == "" {
		cfg.Facing = FacingEnvironment
	}
	if cfg.Width == 0 {
		cfg.Width = 1280
	}
	if cfg.Height == 0 {
		cfg.Height = 720
	}
	return &Session{cfg: cfg, permission: PermissionUnknown, facing: cfg.Facing}
}

// RequestAccess opens the device for the current facing mode and starts
// streaming. Any previously open stream is released first.
func (s *Session) RequestAccess() error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	nodes, err := s.cfg.Enumerate()
	if err != nil || len(nodes) == 0 {
		s.permission = PermissionDenied
		return &AcquireError{Cause: CauseNoCamera, Err: err}
	}

	path := s.nodeForFacing(nodes)
	dev, err := s.cfg.Open(path)
	if err != nil {
		s.permission = PermissionDenied
		return &AcquireError{Cause: classifyOpenErr(err), Err: err}
	}

	layout, w, h, err := dev.Negotiate(s.cfg.Width, s.cfg.Height)
	if err != nil {
		_ = dev.Close()
		s.permission = PermissionDenied
		return &AcquireError{Cause: CauseUnsupported, Err: err}
	}
	if err := dev.StartStreaming(); err != nil {
		_ = dev.Close()
		s.permission = PermissionDenied
		return &AcquireError{Cause: CauseUnsupported, Err: err}
	}

	s.permission = PermissionGranted
	s.devicePath = path
	s.dev = dev
	s.layout = layout
	s.width = w
	s.height = h
	return nil
}

// SwitchFacing toggles front/back. When a stream is open it re-acquires,
// releasing the old stream before the new one opens; an in-flight frame
// wait finishes first. When nothing is open it only records the new mode,
// which the next RequestAccess honors.
func (s *Session) SwitchFacing() error {
	s.mu.Lock()
	if s.facing == FacingEnvironment {
		s.facing = FacingUser
	} else {
		s.facing = FacingEnvironment
	}
	active := s.dev != nil
	s.mu.Unlock()
	if !active {
		return nil
	}
	return s.RequestAccess()
}

// Release stops streaming and closes the device. Safe to call repeatedly
// and when nothing is active.
func (s *Session) Release() {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.dev == nil {
		return
	}
	_ = s.dev.StopStreaming()
	_ = s.dev.Close()
	s.dev = nil
	s.devicePath = ""
}

// Frame waits briefly for the next frame and rasterizes it to grayscale.
// ready=false means the stream has no frame yet (still buffering); the
// caller should skip this tick and try again.
func (s *Session) Frame() (image.Image, bool, error) {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	s.mu.Lock()
	dev := s.dev
	layout := s.layout
	w, h := s.width, s.height
	s.mu.Unlock()

	if dev == nil {
		return nil, false, errors.New("camera not active")
	}

	ready, err := dev.WaitFrame(1)
	if err != nil {
		return nil, false, fmt.Errorf("wait frame: %w", err)
	}
	if !ready {
		return nil, false, nil
	}

	raw, err := dev.ReadFrame()
	if err != nil {
		return nil, false, fmt.Errorf("read frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	img, err := rasterize(layout, raw, int(w), int(h))
	if err != nil {
		// A single corrupt frame is not fatal; treat like not-ready.
		return nil, false, nil
	}
	return img, true, nil
}

// Active reports whether a stream is currently open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

// Permission returns the access state from the last acquisition attempt.
func (s *Session) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Facing returns the currently selected facing mode.
func (s *Session) Facing() Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// DevicePath returns the node of the open device, or "" when inactive.
func (s *Session) DevicePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devicePath
}

// nodeForFacing maps the facing mode to a configured node, falling back to
// the first enumerated device when the configured one is absent.
func (s *Session) nodeForFacing(nodes []string) string {
	want := s.cfg.BackDevice
	if s.facing == FacingUser {
		want = s.cfg.FrontDevice
	}
	for _, n := range nodes {
		if n == want {
			return n
		}
	}
	return nodes[0]
}

func classifyOpenErr(err error) string {
	switch {
	case os.IsPermission(err):
		return CausePermissionDenied
	case os.IsNotExist(err):
		return CauseNoCamera
	default:
		return CauseUnsupported
	}
}
