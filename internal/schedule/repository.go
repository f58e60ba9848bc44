package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrBlockedSlotNotFound = errors.New("blocked slot not found")
)

// Repository is the schedule store. Delete is modeled as deactivation; rows
// are never removed so the rescheduler can always diff old against new.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, onlyActive bool) ([]Schedule, error)
	ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error)

	Create(ctx context.Context, s *Schedule) error
	Update(ctx context.Context, s *Schedule) error

	CreateBlockedSlot(ctx context.Context, b *BlockedSlot) error
	DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error
	ListBlockedBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]BlockedSlot, error)
	ListBlockedOn(ctx context.Context, scheduleIDs []uuid.UUID, date time.Time) ([]BlockedSlot, error)
}
