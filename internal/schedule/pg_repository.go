package schedule

import (
	"context"
	"errors"
	"fmt"
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

const scheduleColumns = `
	id, doctor_id, day_of_week, start_time, end_time, slot_duration,
	is_active, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.DayOfWeek,
		&s.StartTime,
		&s.EndTime,
		&s.SlotDuration,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, onlyActive bool) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE doctor_id = $1
		  AND ($2 = false OR is_active)
		ORDER BY day_of_week ASC, start_time ASC
	`, doctorID, onlyActive)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PgRepository) ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND is_active
		ORDER BY start_time ASC
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PgRepository) Create(ctx context.Context, s *Schedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.DoctorID, s.DayOfWeek, s.StartTime, s.EndTime, s.SlotDuration,
		s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, s *Schedule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET day_of_week = $2,
		    start_time = $3,
		    end_time = $4,
		    slot_duration = $5,
		    is_active = $6,
		    updated_at = $7
		WHERE id = $1
	`, s.ID, s.DayOfWeek, s.StartTime, s.EndTime, s.SlotDuration, s.IsActive, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgRepository) CreateBlockedSlot(ctx context.Context, b *BlockedSlot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blocked_slots (id, schedule_id, blocked_date, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.ScheduleID, b.Date, b.StartTime, b.EndTime, b.Reason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blocked_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blocked slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockedSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListBlockedBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]BlockedSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, blocked_date, start_time, end_time, reason, created_at
		FROM blocked_slots
		WHERE schedule_id = $1
		ORDER BY blocked_date ASC, start_time ASC
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	return collectBlockedSlots(rows)
}

func (r *PgRepository) ListBlockedOn(ctx context.Context, scheduleIDs []uuid.UUID, date time.Time) ([]BlockedSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, blocked_date, start_time, end_time, reason, created_at
		FROM blocked_slots
		WHERE schedule_id = ANY($1)
		  AND blocked_date = $2
		ORDER BY start_time ASC
	`, scheduleIDs, date)
	if err != nil {
		return nil, err
	}
	return collectBlockedSlots(rows)
}

func collectBlockedSlots(rows pgx.Rows) ([]BlockedSlot, error) {
	defer rows.Close()

	var result []BlockedSlot
	for rows.Next() {
		var b BlockedSlot
		err := rows.Scan(&b.ID, &b.ScheduleID, &b.Date, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
