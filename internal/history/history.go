// Package history keeps an audit log of served predictions.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDisabled is returned by Recent when no database is configured.
var ErrDisabled = errors.New("prediction history is disabled")

type Entry struct {
	ID             uuid.UUID `json:"id"`
	PatientID      string    `json:"patient_id"`
	SampleType     string    `json:"sample_type"`
	PredictedClass int       `json:"predicted_class"`
	Confidence     float64   `json:"confidence"`
	Degraded       bool      `json:"degraded"`
	Files          []string  `json:"files"`
	CreatedAt      time.Time `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, ErrDisabled }

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id              UUID PRIMARY KEY,
	patient_id      TEXT NOT NULL,
	sample_type     TEXT NOT NULL,
	predicted_class INTEGER NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	degraded        BOOLEAN NOT NULL DEFAULT FALSE,
	files           TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate predictions table: %w", err)
	}
	return nil
}

// Record assigns an id and timestamp when they are unset.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Files == nil {
		e.Files = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO predictions (id, patient_id, sample_type, predicted_class, confidence, degraded, files, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.PatientID, e.SampleType, e.PredictedClass, e.Confidence, e.Degraded, e.Files, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record prediction: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, patient_id, sample_type, predicted_class, confidence, degraded, files, created_at
		 FROM predictions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.SampleType, &e.PredictedClass, &e.Confidence, &e.Degraded, &e.Files, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
