package appointment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusRescheduled Status = "RESCHEDULED"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// ActiveStates are the statuses counted toward overlap and cap checks.
var ActiveStates = []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusRescheduled}

// validTransitions is the closed walk table. COMPLETED and CANCELLED are
// terminal.
var validTransitions = map[Status][]Status{
	StatusScheduled:   {StatusCancelled, StatusCompleted, StatusRescheduled, StatusConfirmed, StatusInProgress},
	StatusConfirmed:   {StatusCancelled, StatusCompleted, StatusRescheduled, StatusInProgress},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusRescheduled: {StatusCancelled, StatusCompleted, StatusConfirmed, StatusInProgress},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// cancellableStates are the only statuses a cancellation may start from.
var cancellableStates = map[Status]bool{
	StatusScheduled:   true,
	StatusConfirmed:   true,
	StatusRescheduled: true,
}

// statusLabels maps localized labels to canonical statuses. Canonical names
// are accepted as well.
var statusLabels = map[string]Status{
	"PROGRAMADA":  StatusScheduled,
	"CONFIRMADA":  StatusConfirmed,
	"EN_PROGRESO": StatusInProgress,
	"REAGENDADA":  StatusRescheduled,
	"COMPLETADA":  StatusCompleted,
	"CANCELADA":   StatusCancelled,
}

// MapStatusLabel resolves a localized or canonical status label.
func MapStatusLabel(label string) (Status, bool) {
	u := strings.ToUpper(strings.TrimSpace(label))
	if st, ok := statusLabels[u]; ok {
		return st, true
	}
	st := Status(u)
	if _, ok := validTransitions[st]; ok {
		return st, true
	}
	return "", false
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the status counts toward overlap and cap checks.
func IsActive(st Status) bool {
	for _, s := range ActiveStates {
		if s == st {
			return true
		}
	}
	return false
}

// IsCancellable reports whether a cancellation may start from the status.
func IsCancellable(st Status) bool {
	return cancellableStates[st]
}

// AllowedDurations are the bookable appointment lengths in minutes.
var AllowedDurations = map[int]bool{15: true, 30: true, 45: true, 60: true}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	SpecialtyID        *uuid.UUID
	AppointmentDate    time.Time // UTC
	Duration           int       // minutes
	Reason             *string
	Notes              *string
	Status             Status
	CancelledAt        *time.Time
	CancellationReason *string
	CancelledBy        *uuid.UUID
	CompletedAt        *time.Time
	IsRescheduled      bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// End returns the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.AppointmentDate.Add(time.Duration(a.Duration) * time.Minute)
}

type HistoryAction string

const (
	ActionCreated           HistoryAction = "CREATED"
	ActionUpdated           HistoryAction = "UPDATED"
	ActionStatusChanged     HistoryAction = "STATUS_CHANGED"
	ActionCancelled         HistoryAction = "CANCELLED"
	ActionRescheduled       HistoryAction = "RESCHEDULED"
	ActionRescheduleAttempt HistoryAction = "RESCHEDULE_ATTEMPT"
)

// History is an append-only audit row, one per appointment mutation.
type History struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	Action         HistoryAction
	PreviousStatus *Status
	NewStatus      *Status
	PreviousData   json.RawMessage
	NewData        json.RawMessage
	ChangedFields  []string
	ChangedBy      *uuid.UUID // nil when the system acted
	ChangedByRole  string
	CreatedAt      time.Time
}

// Actor identifies who invoked an operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

const (
	RolePatient = "PACIENTE"
	RoleDoctor  = "MEDICO"
	RoleAdmin   = "ADMINISTRADOR"
	RoleSystem  = "SYSTEM"
)

// SystemActor is used for mutations the platform performs on its own,
// e.g. rescheduler moves.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) changedBy() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

func (a Actor) role() string {
	if a.Role == "" {
		return RoleSystem
	}
	return a.Role
}

func snapshot(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
