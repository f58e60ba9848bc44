package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTicketNotFound = errors.New("queue ticket not found")

	// ErrDuplicateTicketNumber surfaces the (doctor, day, ticketNumber)
	// unique constraint. Callers re-read the counter and retry.
	ErrDuplicateTicketNumber = errors.New("duplicate ticket number")
)

// Repository is the ticket store. Listings are ordered by ticketNumber
// ascending, the FIFO order of the queue.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*QueueTicket, error)

	// FindOpenTicket returns the patient's non-terminal ticket for the day,
	// or nil when there is none.
	FindOpenTicket(ctx context.Context, doctorID, patientID uuid.UUID, day time.Time) (*QueueTicket, error)

	MaxTicketNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)

	ListWaiting(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error)
	ListOpen(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error)
	ListForDay(ctx context.Context, doctorID uuid.UUID, day time.Time, includeFinished bool) ([]QueueTicket, error)

	// ListRecentCompleted returns up to limit COMPLETED tickets with both
	// startedAt and completedAt set, most recent first.
	ListRecentCompleted(ctx context.Context, doctorID uuid.UUID, limit int) ([]QueueTicket, error)

	Create(ctx context.Context, t *QueueTicket) error
	Update(ctx context.Context, t *QueueTicket) error
}
