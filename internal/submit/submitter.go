package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"facepresence/internal/attendance"
	"facepresence/internal/auth"
	"facepresence/internal/camera"
	"facepresence/internal/cloudinary"
	"facepresence/internal/detector"
	"facepresence/internal/queue"
	"facepresence/internal/verify"
)

// jpegQuality is the encode quality for uploaded still frames.
const jpegQuality = 85

// Verifier decides whether a descriptor matches the claimed identity.
type Verifier interface {
	Verify(ctx context.Context, id auth.Identity, vector []float64) (verify.Outcome, error)
}

// Uploader stores a still image and returns its public reference.
type Uploader interface {
	UploadBytes(data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Recorder persists one attendance record per completed submission.
type Recorder interface {
	InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error)
}

// Publisher hands recorded events to the notifier. Best-effort.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Submitter runs the single-shot capture/submit protocol: freeze the
// descriptor, upload the still (best effort), verify, persist, notify.
type Submitter struct {
	verifier  Verifier
	uploader  Uploader // nil when image storage is not configured
	recorder  Recorder
	publisher Publisher // nil when no queue is wired
	log       *zap.Logger
}

// New wires a submitter. uploader and publisher may be nil.
func New(verifier Verifier, uploader Uploader, recorder Recorder, publisher Publisher, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		verifier:  verifier,
		uploader:  uploader,
		recorder:  recorder,
		publisher: publisher,
		log:       log.Named("submit"),
	}
}

// Submit verifies one frozen sample and records the outcome.
//
// The still upload and the verification call are independent and run
// concurrently. A verification transport failure aborts with no record; an
// upload failure only drops the image reference; a persistence failure is
// logged and swallowed because the user-facing contract is the verification
// outcome, not storage success.
func (s *Submitter) Submit(ctx context.Context, id auth.Identity, desc detector.Descriptor, frame camera.Frame) (verify.Outcome, error) {
	frozen := desc.Clone()

	urlCh := make(chan *string, 1)
	go func() {
		urlCh <- s.uploadStill(id, frame)
	}()

	outcome, err := s.verifier.Verify(ctx, id, frozen)
	if err != nil {
		return verify.Outcome{}, err
	}

	imageURL := <-urlCh

	status := attendance.StatusAbsent
	if outcome.Recognized {
		status = attendance.StatusPresent
	}
	rec := attendance.Record{
		Roll:            id.Roll,
		Name:            id.Name,
		Email:           id.Email,
		ConfidenceScore: outcome.Confidence,
		Status:          status,
		FaceVector:      frozen,
		ImageURL:        imageURL,
	}

	saved, err := s.recorder.InsertRecord(ctx, rec)
	if err != nil {
		s.log.Warn("record write failed", zap.String("roll", id.Roll), zap.Error(err))
		return outcome, nil
	}

	s.publishRecorded(ctx, saved)
	return outcome, nil
}

// uploadStill encodes and uploads the capture frame. Returns nil on any
// failure; the record still goes through without an image reference.
func (s *Submitter) uploadStill(id auth.Identity, frame camera.Frame) *string {
	if s.uploader == nil || frame.Image == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		s.log.Warn("still encode failed", zap.String("roll", id.Roll), zap.Error(err))
		return nil
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	result, err := s.uploader.UploadBytes(buf.Bytes(), cloudinary.ObjectName(id.Roll, ts))
	if err != nil {
		s.log.Warn("still upload failed", zap.String("roll", id.Roll), zap.Error(err))
		return nil
	}
	return &result.SecureURL
}

func (s *Submitter) publishRecorded(ctx context.Context, rec attendance.Record) {
	if s.publisher == nil {
		return
	}
	body, _ := json.Marshal(queue.RecordedEvent{
		RecordID:   rec.ID,
		Roll:       rec.Roll,
		Email:      rec.Email,
		Status:     rec.Status,
		Confidence: rec.ConfidenceScore,
		ImageURL:   rec.ImageURL,
		CreatedAt:  rec.CreatedAt,
	})
	if err := s.publisher.Publish(ctx, queue.Message{Type: queue.TypeRecorded, Body: body}); err != nil {
		s.log.Warn("event publish failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}
