package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// SearchFilter narrows appointment searches. Zero fields are ignored.
type SearchFilter struct {
	Status      *Status
	DoctorID    *uuid.UUID
	SpecialtyID *uuid.UUID
	PatientID   *uuid.UUID
	PatientIDs  []uuid.UUID // resolved from a name lookup; overrides PatientID
	DateFrom    *time.Time  // inclusive day start
	DateTo      *time.Time  // inclusive day end
	OrderBy     string      // validated against sortableFields by the service
	OrderDesc   bool
	Page        int
	Limit       int
}

// Repository contains all store interactions needed by the lifecycle engine,
// the rescheduler and the availability resolver. Every *WithHistory method
// must run its writes in one transaction.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Conflict checks
	FindActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (*Appointment, error)
	ListActiveByPatientOn(ctx context.Context, patientID uuid.UUID, dayStart time.Time, excludeID *uuid.UUID) ([]Appointment, error)
	CountActiveByPatient(ctx context.Context, patientID uuid.UUID) (int, error)

	// Availability input: every non-cancelled appointment of the doctor that day.
	ListByDoctorOn(ctx context.Context, doctorID uuid.UUID, dayStart time.Time) ([]Appointment, error)

	// Rescheduler and agenda scans, ordered by appointmentDate ascending.
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, statuses []Status, from, to time.Time) ([]Appointment, error)

	// Reminder worker: active appointments of any doctor starting in [from, to).
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// Mutations, each atomic with its audit row.
	CreateWithHistory(ctx context.Context, a *Appointment, h *History) error
	UpdateWithHistory(ctx context.Context, a *Appointment, h *History) error
	AppendHistory(ctx context.Context, h *History) error

	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error)

	Search(ctx context.Context, f SearchFilter) ([]Appointment, int, error)
}
