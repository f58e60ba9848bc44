package queue

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketWaiting    TicketStatus = "WAITING"
	TicketCalled     TicketStatus = "CALLED"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketCompleted  TicketStatus = "COMPLETED"
	TicketCancelled  TicketStatus = "CANCELLED"
	TicketNoShow     TicketStatus = "NO_SHOW"
)

// terminal states never regress.
var terminalTicketStates = map[TicketStatus]bool{
	TicketCompleted: true,
	TicketCancelled: true,
	TicketNoShow:    true,
}

func IsTerminal(st TicketStatus) bool {
	return terminalTicketStates[st]
}

// OpenTicketStates are the statuses occupying a place in the line.
var OpenTicketStates = []TicketStatus{TicketWaiting, TicketCalled, TicketInProgress}

// QueueTicket is one patient's place in a doctor's same-day line. Position
// and EstimatedWaitTime are derived and refreshed on queue movements.
type QueueTicket struct {
	ID                uuid.UUID
	DoctorID          uuid.UUID
	PatientID         uuid.UUID
	AppointmentID     *uuid.UUID
	TicketNumber      int
	QueueDate         time.Time // UTC day start
	Status            TicketStatus
	Position          int
	EstimatedWaitTime int // minutes
	CalledAt          *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time
	NoShowAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
