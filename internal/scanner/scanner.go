// Package scanner drives the scan session: acquire the camera, sample
// frames until a payload decodes, submit it, report the outcome, repeat.
package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanstation/internal/camera"
	"scanstation/internal/decode"
	"scanstation/internal/events"
	"scanstation/internal/metrics"
	"scanstation/internal/notify"
	"scanstation/internal/submit"
)

// State is the single tagged state of the scan session. Exactly one holds
// at any time; there are no independent scanning/loading/error flags.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateScanning   State = "scanning"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// CameraSession is the camera surface the scanner drives.
type CameraSession interface {
	RequestAccess() error
	SwitchFacing() error
	Release()
	Frame() (image.Image, bool, error)
}

// Submitter marks attendance against the remote backend.
type Submitter interface {
	MarkAttendance(ctx context.Context, p decode.Payload, deviceInfo, scanLocation string) (submit.Outcome, error)
}

// ErrAlreadyRunning is returned by Start when a session is active.
var ErrAlreadyRunning = errors.New("scan session already running")

// Config tunes the scan session.
type Config struct {
	SampleInterval time.Duration // decode cadence, default 500ms
	RetryCooldown  time.Duration // pause before auto-resume after a failed submission, default 3s
	Continuous     bool          // keep scanning after a success instead of stopping
	DeviceInfo     string
	ScanLocation   string

	// Host callbacks, both optional.
	OnSuccess func(submit.Outcome)
	OnError   func(error)
}

// Scanner owns one scan session at a time.
type Scanner struct {
	cfg      Config
	cam      CameraSession
	sub      Submitter
	notifier notify.Notifier
	feed     events.Feed

	mu          sync.Mutex
	state       State
	lastErr     error
	lastOutcome *submit.Outcome
	cancel      context.CancelFunc
	done        chan struct{}
	running     bool
}

// New creates a stopped scanner.
func New(cam CameraSession, sub Submitter, notifier notify.Notifier, feed events.Feed, cfg Config) *Scanner {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 500 * time.Millisecond
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 3 * time.Second
	}
	return &Scanner{cfg: cfg, cam: cam, sub: sub, notifier: notifier, feed: feed, state: StateIdle}
}

// Start launches the scan loop. Only one session runs at a time.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.lastErr = nil
	go s.run(ctx, s.done)
	return nil
}

// Stop cancels the session and waits for the loop to exit. The camera is
// released on the way out; a submission already in flight completes but its
// result is discarded. Stopping a stopped scanner is a no-op.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.state = StateIdle
	s.mu.Unlock()
}

// SwitchFacing flips front/back camera. With a running session the old
// stream is released before the new one opens, so exactly one stream stays
// active; the decode loop's in-flight frame wait finishes first. When the
// scanner is idle only the preference changes and no device is opened.
func (s *Scanner) SwitchFacing() error {
	return s.cam.SwitchFacing()
}

// State returns the current session state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a scan loop is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastOutcome returns the most recent successful outcome, if any.
func (s *Scanner) LastOutcome() (submit.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutcome == nil {
		return submit.Outcome{}, false
	}
	return *s.lastOutcome, true
}

// LastError returns the most recent terminal error, if any.
func (s *Scanner) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	defer s.cam.Release()

	s.setState(ctx, StateAcquiring)
	if err := s.cam.RequestAccess(); err != nil {
		// Terminal for this session; the operator retries via Start.
		s.reportFailure(err)
		s.setState(ctx, StateError)
		return
	}

	dec := decode.New(s.cam, s.cfg.SampleInterval)
	dec.OnInvalid = func(text string, err error) {
		if s.notifier != nil {
			s.notifier.Notice("scanned code is not a student QR, keep scanning")
		}
		s.publish(events.Event{
			ID:      uuid.NewString(),
			Type:    events.TypeScanNotice,
			At:      time.Now().UTC(),
			Class:   "invalid-payload",
			Message: err.Error(),
		})
	}

	for {
		s.setState(ctx, StateScanning)
		result, err := dec.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Frame source broke mid-session (camera unplugged, read error).
			s.reportFailure(err)
			s.setState(ctx, StateError)
			return
		}

		// Sampling has stopped; exactly one submission proceeds. The call
		// deliberately does not inherit ctx so a stop mid-flight lets the
		// request finish, but the result below is discarded.
		s.setState(ctx, StateSubmitting)
		outcome, err := s.sub.MarkAttendance(context.Background(), result.Payload, s.cfg.DeviceInfo, s.cfg.ScanLocation)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.reportFailure(err)
			s.setState(ctx, StateError)
			// Auto-resume so the operator can retry without touching the
			// station.
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryCooldown):
			}
			continue
		}

		s.reportSuccess(outcome)
		s.setState(ctx, StateSuccess)
		if !s.cfg.Continuous {
			return
		}
	}
}

// setState mutates session state unless the session has been stopped.
func (s *Scanner) setState(ctx context.Context, st State) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.StateTransitions.WithLabelValues(string(st)).Inc()
}

func (s *Scanner) reportSuccess(outcome submit.Outcome) {
	s.mu.Lock()
	s.lastOutcome = &outcome
	s.lastErr = nil
	s.mu.Unlock()

	metrics.Submissions.WithLabelValues("success").Inc()
	if s.notifier != nil {
		s.notifier.Success(outcome)
	}
	s.publish(events.Event{
		ID:      uuid.NewString(),
		Type:    events.TypeScanSuccess,
		At:      time.Now().UTC(),
		Outcome: &outcome,
	})
	if s.cfg.OnSuccess != nil {
		s.cfg.OnSuccess(outcome)
	}
}

func (s *Scanner) reportFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	class, msg := classOf(err)
	// Only submission outcomes land in the submissions counter; camera and
	// frame-source failures are tracked separately.
	var se *submit.Error
	if errors.As(err, &se) {
		metrics.Submissions.WithLabelValues(class).Inc()
	} else {
		metrics.PipelineFailures.WithLabelValues(class).Inc()
	}
	if s.notifier != nil {
		s.notifier.Failure(class, msg)
	}
	s.publish(events.Event{
		ID:      uuid.NewString(),
		Type:    events.TypeScanFailure,
		At:      time.Now().UTC(),
		Class:   class,
		Message: msg,
	})
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// publish writes to the outcome feed on its own short deadline; the
// session context may already be cancelled by the time an event lands.
func (s *Scanner) publish(e events.Event) {
	if s.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.feed.Publish(ctx, e)
}

// classOf extracts a (class, message) pair from any pipeline error.
func classOf(err error) (string, string) {
	var se *submit.Error
	if errors.As(err, &se) {
		return string(se.Class), se.Message
	}
	var ae *camera.AcquireError
	if errors.As(err, &ae) {
		return ae.Cause, ae.Error()
	}
	return "internal", err.Error()
}
