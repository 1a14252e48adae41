package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facepresence/internal/auth"
	"facepresence/internal/camera"
	"facepresence/internal/detector"
	"facepresence/internal/verify"
)

var testIdentity = auth.Identity{Roll: "21CS042", Name: "Asha Rao", Email: "asha@example.edu"}

type stubSource struct {
	mu         sync.Mutex
	acquireErr error
	releases   int
}

func (s *stubSource) Acquire(ctx context.Context) error { return s.acquireErr }

func (s *stubSource) CurrentFrame(ctx context.Context) (camera.Frame, error) {
	return camera.Frame{Timestamp: time.Now().UTC()}, nil
}

func (s *stubSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

func (s *stubSource) released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type stubExtractor struct {
	mu      sync.Mutex
	present bool
	err     error
	gate    chan struct{} // when set, Detect blocks until the channel closes
	calls   int
}

func (e *stubExtractor) Health(ctx context.Context) error { return nil }

func (e *stubExtractor) Detect(ctx context.Context, frame camera.Frame) (detector.Descriptor, bool, error) {
	e.mu.Lock()
	e.calls++
	present, err, gate := e.present, e.err, e.gate
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	return make(detector.Descriptor, detector.DescriptorLength), true, nil
}

func (e *stubExtractor) detectCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubSubmitter struct {
	mu      sync.Mutex
	calls   int
	outcome verify.Outcome
	err     error
	delay   time.Duration
}

func (s *stubSubmitter) Submit(ctx context.Context, id auth.Identity, desc detector.Descriptor, frame camera.Frame) (verify.Outcome, error) {
	s.mu.Lock()
	s.calls++
	outcome, err, delay := s.outcome, s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return outcome, err
}

func (s *stubSubmitter) submitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestSession(t *testing.T, ext *stubExtractor, sub *stubSubmitter, policy Policy, dwell time.Duration) (*Session, *stubSource) {
	t.Helper()
	src := &stubSource{}
	sess := New(Config{
		ID:           "test-session",
		Identity:     testIdentity,
		Source:       src,
		Extractor:    ext,
		Submitter:    sub,
		Policy:       policy,
		PollInterval: 5 * time.Millisecond,
		DwellDelay:   dwell,
	})
	t.Cleanup(func() { _ = sess.Close() })
	return sess, src
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestStartPreconditions(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{}

	sess := New(Config{Source: &stubSource{}, Extractor: ext, Submitter: sub})
	if err := sess.Start(context.Background()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}

	src := &stubSource{acquireErr: camera.ErrPermissionDenied}
	sess = New(Config{Identity: testIdentity, Source: src, Extractor: ext, Submitter: sub})
	if err := sess.Start(context.Background()); !errors.Is(err, camera.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAutoTriggerSubmitsExactlyOnce(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{outcome: verify.Outcome{Recognized: false, Confidence: 0.85}}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 60*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sub.submitCalls() == 1 }, "first auto submission")

	// Guard is held through the failure dwell: no second submission yet.
	time.Sleep(25 * time.Millisecond)
	if got := sub.submitCalls(); got != 1 {
		t.Fatalf("expected 1 submission while guard held, got %d", got)
	}

	waitFor(t, time.Second, func() bool { return sess.Snapshot().Status == StatusScanning }, "recovery to scanning")
	waitFor(t, time.Second, func() bool { return sub.submitCalls() >= 2 }, "re-trigger after recovery")
}

func TestAbsentSampleNeverSubmitted(t *testing.T) {
	ext := &stubExtractor{present: false}
	sub := &stubSubmitter{}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 50*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return ext.detectCalls() >= 5 }, "polling")
	if got := sub.submitCalls(); got != 0 {
		t.Fatalf("absent samples must never submit, got %d submissions", got)
	}
	if snap := sess.Snapshot(); snap.Status != StatusScanning || snap.FacePresent {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestDetectionErrorRecoveredLocally(t *testing.T) {
	ext := &stubExtractor{present: true, err: errors.New("extractor crashed")}
	sub := &stubSubmitter{}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 50*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Failing ticks are treated as no-detection and polling continues.
	waitFor(t, time.Second, func() bool { return ext.detectCalls() >= 5 }, "loop keeps polling")
	if got := sub.submitCalls(); got != 0 {
		t.Fatalf("failing ticks must not submit, got %d", got)
	}
	if snap := sess.Snapshot(); snap.Status != StatusScanning {
		t.Fatalf("expected scanning, got %s", snap.Status)
	}
}

func TestManualTriggerMutualExclusion(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{outcome: verify.Outcome{Recognized: true, Confidence: 0.92}, delay: 50 * time.Millisecond}
	sess, _ := newTestSession(t, ext, sub, PolicyManual, 200*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sess.Snapshot().FacePresent }, "face presence")
	if got := sub.submitCalls(); got != 0 {
		t.Fatalf("manual policy must not auto-submit, got %d", got)
	}

	var wg sync.WaitGroup
	var ok, busy int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sess.TriggerCapture()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrBusy):
				busy++
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Fatalf("expected exactly one trigger to proceed, got %d (busy=%d)", ok, busy)
	}
	waitFor(t, time.Second, func() bool { return sub.submitCalls() == 1 }, "single submission")
}

func TestTriggerCaptureErrors(t *testing.T) {
	ext := &stubExtractor{present: false}
	sub := &stubSubmitter{}

	auto, _ := newTestSession(t, ext, sub, PolicyAuto, 50*time.Millisecond)
	if err := auto.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := auto.TriggerCapture(); !errors.Is(err, ErrManualOnly) {
		t.Fatalf("expected ErrManualOnly, got %v", err)
	}

	manual, _ := newTestSession(t, ext, sub, PolicyManual, 50*time.Millisecond)
	if err := manual.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return ext.detectCalls() >= 2 }, "polling")
	if err := manual.TriggerCapture(); !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}

	_ = manual.Close()
	if err := manual.TriggerCapture(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSuccessDwellsThenCompletes(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{outcome: verify.Outcome{Recognized: true, Confidence: 0.92}}
	sess, src := newTestSession(t, ext, sub, PolicyAuto, 200*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sess.Snapshot().Status == StatusSuccess }, "success state")

	// Still dwelling well before the delay elapses.
	time.Sleep(80 * time.Millisecond)
	if snap := sess.Snapshot(); snap.Status != StatusSuccess {
		t.Fatalf("left success before dwell elapsed: %s", snap.Status)
	}

	waitFor(t, time.Second, func() bool { return sess.Snapshot().Status == StatusCompleted }, "completion")
	if src.released() == 0 {
		t.Fatal("camera must be released on completion")
	}
	if snap := sess.Snapshot(); snap.CaptureAvailable {
		t.Fatal("capture must stay unavailable after completion")
	}
	if got := sub.submitCalls(); got != 1 {
		t.Fatalf("completed session must not resubmit, got %d", got)
	}
}

func TestFailureDwellsThenRecovers(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{err: errors.New("connection refused")}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 200*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return sess.Snapshot().Status == StatusFailure }, "failure state")

	time.Sleep(80 * time.Millisecond)
	if snap := sess.Snapshot(); snap.Status != StatusFailure {
		t.Fatalf("left failure before dwell elapsed: %s", snap.Status)
	}

	waitFor(t, time.Second, func() bool {
		snap := sess.Snapshot()
		return snap.Status == StatusScanning && !snap.Processing
	}, "recovery clears processing")
}

func TestCloseDuringSlowDetectLeavesStateAlone(t *testing.T) {
	gate := make(chan struct{})
	ext := &stubExtractor{present: true, gate: gate}
	sub := &stubSubmitter{outcome: verify.Outcome{Recognized: true}}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 50*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return ext.detectCalls() >= 1 }, "detect in flight")

	start := time.Now()
	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("close blocked on slow extractor: %v", elapsed)
	}

	before := sess.Snapshot()
	close(gate) // slow poll now resolves, after teardown
	time.Sleep(50 * time.Millisecond)

	if got := sub.submitCalls(); got != 0 {
		t.Fatalf("stale completion must not submit, got %d", got)
	}
	if after := sess.Snapshot(); after != before {
		t.Fatalf("state mutated after teardown: %+v -> %+v", before, after)
	}
}

func TestCloseCancelsDwellTimer(t *testing.T) {
	ext := &stubExtractor{present: true}
	sub := &stubSubmitter{err: errors.New("connection refused")}
	sess, _ := newTestSession(t, ext, sub, PolicyAuto, 100*time.Millisecond)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sess.Snapshot().Status == StatusFailure }, "failure state")

	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close must be idempotent: %v", err)
	}

	// The pending recovery must not fire after teardown.
	time.Sleep(200 * time.Millisecond)
	if snap := sess.Snapshot(); snap.Status != StatusFailure {
		t.Fatalf("dwell timer fired after close: %s", snap.Status)
	}
}
