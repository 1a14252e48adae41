package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusPresent and StatusAbsent are the only values ever persisted; the
// record is written once per completed submission and never updated.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// Record is one persisted attendance outcome.
type Record struct {
	ID              string    `json:"id"`
	Roll            string    `json:"roll"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	ConfidenceScore float64   `json:"confidence_score"`
	Status          string    `json:"status"`
	FaceVector      []float64 `json:"face_vector,omitempty"`
	ImageURL        *string   `json:"image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertRecord writes a new record. The face vector is stored as JSONB.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	vector, err := json.Marshal(rec.FaceVector)
	if err != nil {
		return Record{}, fmt.Errorf("attendance: encode face vector: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, roll, name, email, confidence_score, status, face_vector, image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, rec.ID, rec.Roll, rec.Name, rec.Email, rec.ConfidenceScore, rec.Status, vector, rec.ImageURL)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListRecords returns recent records, optionally filtered by roll number.
func (r *Repository) ListRecords(ctx context.Context, roll string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, roll, name, email, confidence_score, status, face_vector, image_url, created_at FROM attendance_records`
	args := []any{}
	if roll != "" {
		query += " WHERE roll = $1"
		args = append(args, roll)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		var vector []byte
		if err := rows.Scan(&rec.ID, &rec.Roll, &rec.Name, &rec.Email, &rec.ConfidenceScore, &rec.Status, &vector, &rec.ImageURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(vector) > 0 {
			if err := json.Unmarshal(vector, &rec.FaceVector); err != nil {
				return nil, fmt.Errorf("attendance: decode face vector: %w", err)
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
