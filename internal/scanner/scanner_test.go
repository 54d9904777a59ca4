package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	qrgen "github.com/skip2/go-qrcode"

	"scanstation/internal/camera"
	"scanstation/internal/decode"
	"scanstation/internal/events"
	"scanstation/internal/metrics"
	"scanstation/internal/submit"
)

// fakeCam hands out a fixed frame and counts lifecycle calls.
type fakeCam struct {
	mu         sync.Mutex
	frame      image.Image
	acquireErr error
	acquires   int
	releases   int
	switches   int
	active     bool
}

func (f *fakeCam) RequestAccess() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquires++
	f.active = true
	return nil
}

func (f *fakeCam) SwitchFacing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.releases++ // old stream goes first
	}
	f.switches++
	f.active = true
	return nil
}

func (f *fakeCam) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.releases++
		f.active = false
	}
}

func (f *fakeCam) Frame() (image.Image, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, false, nil
	}
	return f.frame, true, nil
}

func (f *fakeCam) stats() (acquires, releases int, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases, f.active
}

// fakeSubmitter scripts submission results and tracks in-flight calls.
type fakeSubmitter struct {
	mu       sync.Mutex
	results  []submitResult
	calls    int
	inFlight int32
	maxSeen  int32
	block    chan struct{} // when set, calls wait here before returning
}

type submitResult struct {
	outcome submit.Outcome
	err     error
}

func (f *fakeSubmitter) MarkAttendance(ctx context.Context, p decode.Payload, deviceInfo, scanLocation string) (submit.Outcome, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	if f.block != nil {
		<-f.block
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	res := f.results[i]
	f.mu.Unlock()
	return res.outcome, res.err
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func qrFrame(t *testing.T, text string) image.Image {
	t.Helper()
	qr, err := qrgen.New(text, qrgen.Medium)
	if err != nil {
		t.Fatalf("generate qr: %v", err)
	}
	return qr.Image(256)
}

func newTestScanner(cam *fakeCam, sub Submitter, cfg Config) (*Scanner, *events.InMemory) {
	feed := events.NewInMemory(20)
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = time.Millisecond
	}
	if cfg.RetryCooldown == 0 {
		cfg.RetryCooldown = 10 * time.Millisecond
	}
	return New(cam, sub, nil, feed, cfg), feed
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSingleShotSuccessReleasesCamera(t *testing.T) {
	cam := &fakeCam{frame: qrFrame(t, "ST1001")}
	sub := &fakeSubmitter{results: []submitResult{{outcome: submit.Outcome{Status: submit.StatusEntered}}}}

	got := make(chan submit.Outcome, 1)
	sc, _ := newTestScanner(cam, sub, Config{
		Continuous: false,
		OnSuccess:  func(o submit.Outcome) { got <- o },
	})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case o := <-got:
		if o.Status != submit.StatusEntered {
			t.Errorf("outcome status = %q, want entered", o.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no success callback")
	}

	waitFor(t, time.Second, func() bool { return !sc.Running() })

	_, releases, active := cam.stats()
	if active || releases == 0 {
		t.Errorf("camera still active after single-shot success (releases=%d)", releases)
	}
	if sc.State() != StateSuccess {
		t.Errorf("state = %q, want success", sc.State())
	}
	if _, ok := sc.LastOutcome(); !ok {
		t.Error("LastOutcome missing after success")
	}
}

func TestAtMostOneSubmissionInFlight(t *testing.T) {
	cam := &fakeCam{frame: qrFrame(t, "ST1001")}
	sub := &fakeSubmitter{results: []submitResult{{outcome: submit.Outcome{Status: submit.StatusEntered}}}}

	sc, _ := newTestScanner(cam, sub, Config{Continuous: true})
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitFor(t, 5*time.Second, func() bool { return sub.callCount() >= 4 })

	if max := atomic.LoadInt32(&sub.maxSeen); max != 1 {
		t.Errorf("max in-flight submissions = %d, want 1", max)
	}
}

func TestFailedSubmissionAutoResumesAfterCooldown(t *testing.T) {
	cam := &fakeCam{frame: qrFrame(t, "ST1001")}
	conflict := &submit.Error{Class: submit.ClassConflict, Status: 409, Message: "attendance already marked today"}
	sub := &fakeSubmitter{results: []submitResult{
		{err: conflict},
		{outcome: submit.Outcome{Status: submit.StatusEntered}},
	}}

	errs := make(chan error, 1)
	got := make(chan submit.Outcome, 1)
	sc, _ := newTestScanner(cam, sub, Config{
		Continuous:    false,
		RetryCooldown: 20 * time.Millisecond,
		OnError:       func(err error) { errs <- err },
		OnSuccess:     func(o submit.Outcome) { got <- o },
	})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var se *submit.Error
	select {
	case err := <-errs:
		if !errors.As(err, &se) || se.Class != submit.ClassConflict {
			t.Fatalf("OnError got %v, want conflict", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error callback")
	}

	// Scanning resumes on its own and the second scan succeeds.
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("scanning did not auto-resume after cooldown")
	}
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	cam := &fakeCam{frame: qrFrame(t, "ST1001")}
	sub := &fakeSubmitter{
		results: []submitResult{{outcome: submit.Outcome{Status: submit.StatusEntered}}},
		block:   make(chan struct{}),
	}

	succeeded := make(chan struct{}, 1)
	sc, _ := newTestScanner(cam, sub, Config{
		Continuous: true,
		OnSuccess:  func(submit.Outcome) { succeeded <- struct{}{} },
	})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return atomic.LoadInt32(&sub.inFlight) == 1 })

	stopped := make(chan struct{})
	go func() {
		sc.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond) // let Stop cancel the session
	close(sub.block)                  // in-flight call now completes

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case <-succeeded:
		t.Error("success callback fired for a discarded result")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := sc.LastOutcome(); ok {
		t.Error("discarded result mutated LastOutcome")
	}
	if sc.State() != StateIdle {
		t.Errorf("state = %q, want idle after Stop", sc.State())
	}
	if _, _, active := cam.stats(); active {
		t.Error("camera still active after Stop")
	}
}

func TestAcquisitionFailureIsTerminal(t *testing.T) {
	cam := &fakeCam{acquireErr: &camera.AcquireError{Cause: camera.CausePermissionDenied}}
	sub := &fakeSubmitter{results: []submitResult{{}}}

	errs := make(chan error, 1)
	sc, _ := newTestScanner(cam, sub, Config{OnError: func(err error) { errs <- err }})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-errs:
		var ae *camera.AcquireError
		if !errors.As(err, &ae) || ae.Cause != camera.CausePermissionDenied {
			t.Fatalf("OnError got %v, want permission-denied", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error callback")
	}

	waitFor(t, time.Second, func() bool { return !sc.Running() })
	if sc.State() != StateError {
		t.Errorf("state = %q, want error", sc.State())
	}
	if sub.callCount() != 0 {
		t.Error("submission attempted after acquisition failure")
	}
}

func TestAcquisitionFailureNotCountedAsSubmission(t *testing.T) {
	subBefore := testutil.ToFloat64(metrics.Submissions.WithLabelValues(camera.CauseNoCamera))
	pipeBefore := testutil.ToFloat64(metrics.PipelineFailures.WithLabelValues(camera.CauseNoCamera))

	cam := &fakeCam{acquireErr: &camera.AcquireError{Cause: camera.CauseNoCamera}}
	sub := &fakeSubmitter{results: []submitResult{{}}}
	sc, _ := newTestScanner(cam, sub, Config{})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return !sc.Running() })

	if got := testutil.ToFloat64(metrics.Submissions.WithLabelValues(camera.CauseNoCamera)); got != subBefore {
		t.Errorf("submissions counter moved by %v on a camera failure, want unchanged", got-subBefore)
	}
	if got := testutil.ToFloat64(metrics.PipelineFailures.WithLabelValues(camera.CauseNoCamera)) - pipeBefore; got != 1 {
		t.Errorf("pipeline failures delta = %v, want 1", got)
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	cam := &fakeCam{} // never yields a frame, loop idles in scanning
	sub := &fakeSubmitter{results: []submitResult{{}}}

	sc, _ := newTestScanner(cam, sub, Config{Continuous: true})
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	if err := sc.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestOutcomesLandOnFeed(t *testing.T) {
	cam := &fakeCam{frame: qrFrame(t, "ST1001")}
	sub := &fakeSubmitter{results: []submitResult{{outcome: submit.Outcome{Status: submit.StatusEntered}}}}

	done := make(chan struct{}, 1)
	sc, feed := newTestScanner(cam, sub, Config{
		Continuous: false,
		OnSuccess:  func(submit.Outcome) { done <- struct{}{} },
	})

	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no success callback")
	}

	recent, err := feed.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) == 0 || recent[0].Type != events.TypeScanSuccess {
		t.Fatalf("feed = %+v, want scan.success first", recent)
	}
	if recent[0].Outcome == nil || recent[0].Outcome.Status != submit.StatusEntered {
		t.Error("feed event missing outcome")
	}
}
