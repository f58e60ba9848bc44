package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is a doctor's recurring weekly availability window. Times are
// HH:mm strings on the day-of-week grid; absolute timestamps only exist on
// appointments.
type Schedule struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	DayOfWeek    int    // 0 = Sunday .. 6 = Saturday
	StartTime    string // HH:mm
	EndTime      string // HH:mm, exclusive
	SlotDuration int    // minutes
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BlockedSlot is a one-off exception: a calendar date plus an HH:mm range
// that is unavailable despite falling inside the recurring window.
type BlockedSlot struct {
	ID         uuid.UUID
	ScheduleID uuid.UUID
	Date       time.Time // UTC day start
	StartTime  string
	EndTime    string
	Reason     *string
	CreatedAt  time.Time
}

// Slot unavailability reasons.
const (
	SlotReasonAppointment = "APPOINTMENT"
	SlotReasonBlocked     = "BLOCKED"
)

// Slot is one entry of an availability listing.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// LostWindow is a weekly time range a schedule edit no longer covers.
// Appointments sitting inside one must be relocated.
type LostWindow struct {
	DayOfWeek int
	StartTime string
	EndTime   string
}
