package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const ticketColumns = `
	id, doctor_id, patient_id, appointment_id, ticket_number, queue_date,
	status, position, estimated_wait_time, called_at, started_at,
	completed_at, cancelled_at, no_show_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*QueueTicket, error) {
	var t QueueTicket
	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&t.PatientID,
		&t.AppointmentID,
		&t.TicketNumber,
		&t.QueueDate,
		&t.Status,
		&t.Position,
		&t.EstimatedWaitTime,
		&t.CalledAt,
		&t.StartedAt,
		&t.CompletedAt,
		&t.CancelledAt,
		&t.NoShowAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func collectTickets(rows pgx.Rows) ([]QueueTicket, error) {
	defer rows.Close()

	var result []QueueTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func openStatusStrings() []string {
	out := make([]string, len(OpenTicketStates))
	for i, s := range OpenTicketStates {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*QueueTicket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE id = $1
	`, id)
	return scanTicket(row)
}

func (r *PgRepository) FindOpenTicket(ctx context.Context, doctorID, patientID uuid.UUID, day time.Time) (*QueueTicket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND patient_id = $2
		  AND queue_date = $3
		  AND status = ANY($4)
		LIMIT 1
	`, doctorID, patientID, day, openStatusStrings())

	t, err := scanTicket(row)
	if errors.Is(err, ErrTicketNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *PgRepository) MaxTicketNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(ticket_number), 0)
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND queue_date = $2
	`, doctorID, day).Scan(&max)
	return max, err
}

func (r *PgRepository) ListWaiting(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND queue_date = $2
		  AND status = 'WAITING'
		ORDER BY ticket_number ASC
	`, doctorID, day)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *PgRepository) ListOpen(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND queue_date = $2
		  AND status = ANY($3)
		ORDER BY ticket_number ASC
	`, doctorID, day, openStatusStrings())
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *PgRepository) ListForDay(ctx context.Context, doctorID uuid.UUID, day time.Time, includeFinished bool) ([]QueueTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND queue_date = $2
		  AND ($3 OR status = ANY($4))
		ORDER BY ticket_number ASC
	`, doctorID, day, includeFinished, openStatusStrings())
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *PgRepository) ListRecentCompleted(ctx context.Context, doctorID uuid.UUID, limit int) ([]QueueTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1
		  AND status = 'COMPLETED'
		  AND started_at IS NOT NULL
		  AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT $2
	`, doctorID, limit)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *PgRepository) Create(ctx context.Context, t *QueueTicket) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.DoctorID, t.PatientID, t.AppointmentID, t.TicketNumber, t.QueueDate,
		t.Status, t.Position, t.EstimatedWaitTime, t.CalledAt, t.StartedAt,
		t.CompletedAt, t.CancelledAt, t.NoShowAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTicketNumber
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, t *QueueTicket) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_tickets
		SET status = $2,
		    position = $3,
		    estimated_wait_time = $4,
		    called_at = $5,
		    started_at = $6,
		    completed_at = $7,
		    cancelled_at = $8,
		    no_show_at = $9,
		    updated_at = $10
		WHERE id = $1
	`, t.ID, t.Status, t.Position, t.EstimatedWaitTime, t.CalledAt, t.StartedAt,
		t.CompletedAt, t.CancelledAt, t.NoShowAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}
