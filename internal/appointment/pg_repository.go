package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, doctor_id, specialty_id, appointment_date, duration,
	reason, notes, status, cancelled_at, cancellation_reason, cancelled_by,
	completed_at, is_rescheduled, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SpecialtyID,
		&a.AppointmentDate,
		&a.Duration,
		&a.Reason,
		&a.Notes,
		&a.Status,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.CompletedAt,
		&a.IsRescheduled,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = ANY($3)
		  AND ($4::uuid IS NULL OR id <> $4)
		LIMIT 1
	`, doctorID, at, statusStrings(ActiveStates), excludeID)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *PgRepository) ListActiveByPatientOn(ctx context.Context, patientID uuid.UUID, dayStart time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		  AND status = ANY($4)
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY appointment_date ASC
	`, patientID, dayStart, dayStart.Add(24*time.Hour), statusStrings(ActiveStates), excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountActiveByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE patient_id = $1
		  AND status = ANY($2)
	`, patientID, statusStrings(ActiveStates)).Scan(&count)
	return count, err
}

func (r *PgRepository) ListByDoctorOn(ctx context.Context, doctorID uuid.UUID, dayStart time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		  AND status <> 'CANCELLED'
		ORDER BY appointment_date ASC
	`, doctorID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, statuses []Status, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = ANY($2)
		  AND appointment_date >= $3
		  AND appointment_date < $4
		ORDER BY appointment_date ASC
	`, doctorID, statusStrings(statuses), from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		  AND appointment_date >= $2
		  AND appointment_date < $3
		ORDER BY appointment_date ASC
	`, statusStrings([]Status{StatusScheduled, StatusConfirmed, StatusRescheduled}), from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateWithHistory(ctx context.Context, a *Appointment, h *History) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.PatientID, a.DoctorID, a.SpecialtyID, a.AppointmentDate, a.Duration,
		a.Reason, a.Notes, a.Status, a.CancelledAt, a.CancellationReason, a.CancelledBy,
		a.CompletedAt, a.IsRescheduled, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := insertHistory(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) UpdateWithHistory(ctx context.Context, a *Appointment, h *History) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    duration = $3,
		    reason = $4,
		    notes = $5,
		    status = $6,
		    cancelled_at = $7,
		    cancellation_reason = $8,
		    cancelled_by = $9,
		    completed_at = $10,
		    is_rescheduled = $11,
		    updated_at = $12
		WHERE id = $1
	`, a.ID, a.AppointmentDate, a.Duration, a.Reason, a.Notes, a.Status,
		a.CancelledAt, a.CancellationReason, a.CancelledBy, a.CompletedAt,
		a.IsRescheduled, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	if err := insertHistory(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) AppendHistory(ctx context.Context, h *History) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertHistory(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, h *History) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history (
			id, appointment_id, action, previous_status, new_status,
			previous_data, new_data, changed_fields, changed_by, changed_by_role, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, h.ID, h.AppointmentID, h.Action, h.PreviousStatus, h.NewStatus,
		h.PreviousData, h.NewData, h.ChangedFields, h.ChangedBy, h.ChangedByRole, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, action, previous_status, new_status,
		       previous_data, new_data, changed_fields, changed_by, changed_by_role, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at DESC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []History
	for rows.Next() {
		var h History
		err := rows.Scan(&h.ID, &h.AppointmentID, &h.Action, &h.PreviousStatus, &h.NewStatus,
			&h.PreviousData, &h.NewData, &h.ChangedFields, &h.ChangedBy, &h.ChangedByRole, &h.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Search(ctx context.Context, f SearchFilter) ([]Appointment, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.SpecialtyID != nil {
		add("specialty_id = $%d", *f.SpecialtyID)
	}
	if len(f.PatientIDs) > 0 {
		add("patient_id = ANY($%d)", f.PatientIDs)
	} else if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DateFrom != nil {
		add("appointment_date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("appointment_date < $%d", *f.DateTo)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol := map[string]string{
		"appointmentDate": "appointment_date",
		"createdAt":       "created_at",
		"status":          "status",
		"doctorId":        "doctor_id",
		"patientId":       "patient_id",
	}[f.OrderBy]
	if orderCol == "" {
		orderCol = "appointment_date"
	}
	dir := "ASC"
	if f.OrderDesc {
		dir = "DESC"
	}

	offset := (f.Page - 1) * f.Limit
	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`
		SELECT `+appointmentColumns+`
		FROM appointments
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, orderCol, dir, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
