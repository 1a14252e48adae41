package queue

import "time"

// RecordedEvent is the payload of a TypeRecorded message, emitted once per
// persisted attendance record.
type RecordedEvent struct {
	RecordID   string    `json:"record_id"`
	Roll       string    `json:"roll"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	ImageURL   *string   `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
