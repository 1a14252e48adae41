package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"facepresence/internal/auth"
	"facepresence/internal/camera"
	"facepresence/internal/detector"
	"facepresence/internal/verify"
)

// Policy selects how a submission is triggered. Exactly one policy holds for
// a session's whole lifetime.
type Policy string

const (
	// PolicyAuto submits on the first detected face and pauses the loop
	// until the guard clears.
	PolicyAuto Policy = "auto"
	// PolicyManual only updates displayed state; submission waits for an
	// explicit TriggerCapture call.
	PolicyManual Policy = "manual"
)

// ParsePolicy maps a config string to a Policy, defaulting to auto.
func ParsePolicy(s string) Policy {
	if s == string(PolicyManual) {
		return PolicyManual
	}
	return PolicyAuto
}

var (
	ErrClosed     = errors.New("session: closed")
	ErrBusy       = errors.New("session: submission already in flight")
	ErrNoFace     = errors.New("session: no face present")
	ErrManualOnly = errors.New("session: capture trigger requires manual policy")
	ErrNoIdentity = errors.New("session: identity required before camera start")
)

// DetectionSample is the result of one poll tick. Superseded by the next
// tick and never persisted. Present=false samples carry no descriptor.
type DetectionSample struct {
	Present    bool
	Descriptor detector.Descriptor
	Timestamp  time.Time
}

// Extractor produces at most one face descriptor per frame.
type Extractor interface {
	Detect(ctx context.Context, frame camera.Frame) (detector.Descriptor, bool, error)
	Health(ctx context.Context) error
}

// Submitter runs the capture-and-verify protocol for one frozen sample.
type Submitter interface {
	Submit(ctx context.Context, id auth.Identity, desc detector.Descriptor, frame camera.Frame) (verify.Outcome, error)
}

// Config wires one camera session.
type Config struct {
	ID           string
	Identity     auth.Identity
	Source       camera.Source
	Extractor    Extractor
	Submitter    Submitter
	Policy       Policy
	PollInterval time.Duration
	DwellDelay   time.Duration
	Logger       *zap.Logger
}

// Snapshot is the read model the presentation layer polls.
type Snapshot struct {
	ID               string `json:"id"`
	Status           Status `json:"status"`
	Message          string `json:"message"`
	Processing       bool   `json:"processing"`
	FacePresent      bool   `json:"face_present"`
	CaptureAvailable bool   `json:"capture_available"`
}

// Session owns one continuous camera interaction: the stream, the detection
// loop, the capture guard, and the status machine. No state is shared
// between sessions.
type Session struct {
	id        string
	identity  auth.Identity
	source    camera.Source
	extractor Extractor
	submitter Submitter
	policy    Policy
	interval  time.Duration
	dwell     time.Duration
	log       *zap.Logger

	guard  CaptureGuard
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	message    string
	processing bool
	sample     DetectionSample
	frame      camera.Frame
	dwellTimer *time.Timer
	closed     bool
}

// New builds a session; Start must be called before it does anything.
func New(cfg Config) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DwellDelay <= 0 {
		cfg.DwellDelay = 3 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAuto
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{
		id:        cfg.ID,
		identity:  cfg.Identity,
		source:    cfg.Source,
		extractor: cfg.Extractor,
		submitter: cfg.Submitter,
		policy:    cfg.Policy,
		interval:  cfg.PollInterval,
		dwell:     cfg.DwellDelay,
		log:       cfg.Logger.With(zap.String("session_id", cfg.ID)),
		status:    StatusScanning,
		message:   msgInitializing,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start checks preconditions, acquires the stream, and launches the
// detection loop. Acquisition and extractor readiness failures are terminal:
// they need remediation the session cannot do itself.
func (s *Session) Start(ctx context.Context) error {
	if !s.identity.Valid() {
		return ErrNoIdentity
	}
	if err := s.extractor.Health(ctx); err != nil {
		return err
	}
	if err := s.source.Acquire(ctx); err != nil {
		return fmt.Errorf("session: camera acquire failed: %w", err)
	}

	s.mu.Lock()
	s.message = msgSearching
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)

	sessionsStarted.Inc()
	s.log.Info("session started",
		zap.String("roll", s.identity.Roll),
		zap.String("policy", string(s.policy)),
		zap.Duration("poll_interval", s.interval),
	)
	return nil
}

// run is the detection loop. One goroutine per session; the frame pull and
// the extractor call happen inline, so extractor calls never overlap.
func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Session) tick(ctx context.Context) {
	// Under the auto policy the loop pauses entirely while a submission is
	// in flight or dwelling; manual keeps sampling for display.
	if s.policy == PolicyAuto && s.guard.Held() {
		return
	}

	frame, err := s.source.CurrentFrame(ctx)
	if err != nil {
		if !errors.Is(err, camera.ErrNotAcquired) {
			s.log.Warn("frame pull failed", zap.Error(err))
		}
		s.publish(DetectionSample{Timestamp: time.Now().UTC()}, camera.Frame{})
		return
	}

	desc, present, err := s.extractor.Detect(ctx, frame)
	if err != nil {
		// Per-tick extractor failures are recovered locally: log, treat
		// the tick as no-detection, keep polling.
		s.log.Warn("detection error", zap.Error(err))
		present, desc = false, nil
	}
	detectionTicks.WithLabelValues(fmt.Sprintf("%t", present)).Inc()

	sample := DetectionSample{Present: present, Timestamp: frame.Timestamp}
	if present {
		sample.Descriptor = desc
	}
	s.publish(sample, frame)

	if s.policy == PolicyAuto && present && s.guard.TryAcquire() {
		s.beginSubmission(sample, frame)
	}
}

// publish records the latest sample for the read model.
func (s *Session) publish(sample DetectionSample, frame camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sample = sample
	s.frame = frame
	if s.status == StatusScanning && !s.processing {
		s.message = msgSearching
	}
}

// TriggerCapture submits the current sample. Valid only under the manual
// policy, while a face is present and no submission is in flight.
func (s *Session) TriggerCapture() error {
	if s.policy != PolicyManual {
		return ErrManualOnly
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sample, frame := s.sample, s.frame
	s.mu.Unlock()

	if !sample.Present {
		return ErrNoFace
	}
	if !s.guard.TryAcquire() {
		return ErrBusy
	}
	s.beginSubmission(sample, frame)
	return nil
}

// beginSubmission freezes the sample and runs the submitter asynchronously.
// Caller must already hold the guard.
func (s *Session) beginSubmission(sample DetectionSample, frame camera.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.guard.Release()
		return
	}
	s.processing = true
	s.message = msgProcessing
	s.mu.Unlock()

	desc := sample.Descriptor.Clone()
	// The submission is not cancelled on teardown; finish checks liveness
	// before touching session state.
	go func() {
		outcome, err := s.submitter.Submit(context.Background(), s.identity, desc, frame)
		s.finishSubmission(outcome, err)
	}()
}

func (s *Session) finishSubmission(outcome verify.Outcome, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch {
	case err != nil:
		submissionOutcomes.WithLabelValues("error").Inc()
		s.log.Warn("submission failed", zap.Error(err))
		s.status = StatusFailure
		s.message = msgConnError
		s.dwellTimer = time.AfterFunc(s.dwell, s.recoverScanning)
	case outcome.Recognized:
		submissionOutcomes.WithLabelValues("recognized").Inc()
		s.status = StatusSuccess
		s.message = msgSuccess
		s.dwellTimer = time.AfterFunc(s.dwell, s.complete)
	default:
		submissionOutcomes.WithLabelValues("rejected").Inc()
		s.status = StatusFailure
		s.message = msgNotMatched
		s.dwellTimer = time.AfterFunc(s.dwell, s.recoverScanning)
	}
	s.mu.Unlock()
}

// recoverScanning runs after the failure dwell: guard clears and the loop
// resumes triggering.
func (s *Session) recoverScanning() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = StatusScanning
	s.message = msgRetry
	s.processing = false
	s.mu.Unlock()

	s.guard.Release()
}

// complete runs after the success dwell. Terminal: camera released, loop
// stopped, guard never cleared.
func (s *Session) complete() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = StatusCompleted
	s.message = msgCompleted
	s.processing = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.source.Release(); err != nil {
		s.log.Warn("camera release failed", zap.Error(err))
	}
	s.log.Info("session completed", zap.String("roll", s.identity.Roll))
}

// Snapshot returns the current read model.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:               s.id,
		Status:           s.status,
		Message:          s.message,
		Processing:       s.processing,
		FacePresent:      s.sample.Present,
		CaptureAvailable: s.sample.Present && !s.guard.Held() && s.status == StatusScanning,
	}
}

// Close tears the session down: loop cancelled, dwell timers stopped,
// stream released. Idempotent. An in-flight poll or submission is not
// waited for; its completion handler finds the session closed and leaves
// all state untouched.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.dwellTimer != nil {
		s.dwellTimer.Stop()
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	return s.source.Release()
}
