// Package store persists extracted appointments in Postgres.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/agentplexus/twilio-realtime-bridge/transcript"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// SaveAppointment inserts one appointment.
func (s *Store) SaveAppointment(ctx context.Context, a transcript.Appointment) error {
	query := `
		INSERT INTO appointments (
			session_id, customer_name, availability_raw, appointment_at, special_notes,
			phone_number, date_of_birth, doctor_name, transcript, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		a.SessionID,
		a.Details.CustomerName,
		a.Details.CustomerAvailability,
		a.Availability,
		a.Details.SpecialNotes,
		nullable(a.Details.PhoneNumber),
		nullable(a.Details.DateOfBirth),
		nullable(a.Details.DoctorName),
		a.Transcript,
		created,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	slog.Debug("saved appointment", "session_id", a.SessionID)
	return nil
}

// Record is a stored appointment.
type Record struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"session_id"`
	CustomerName    string     `json:"customer_name"`
	AvailabilityRaw string     `json:"availability"`
	AppointmentAt   *time.Time `json:"appointment_at,omitempty"`
	SpecialNotes    string     `json:"special_notes"`
	PhoneNumber     *string    `json:"phone_number,omitempty"`
	DateOfBirth     *string    `json:"date_of_birth,omitempty"`
	DoctorName      *string    `json:"doctor_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RecentAppointments returns the newest appointments, newest first.
func (s *Store) RecentAppointments(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, customer_name, availability_raw, appointment_at, special_notes,
		       phone_number, date_of_birth, doctor_name, created_at
		FROM appointments
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.SessionID, &r.CustomerName, &r.AvailabilityRaw, &r.AppointmentAt,
			&r.SpecialNotes, &r.PhoneNumber, &r.DateOfBirth, &r.DoctorName, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan appointments: %w", err)
	}
	return records, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
