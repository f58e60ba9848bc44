package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/queue"
	"github.com/clinicore/clinic-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	PatientID       string    `json:"patientId"`
	DoctorID        string    `json:"doctorId"`
	SpecialtyID     *string   `json:"specialtyId,omitempty"`
	AppointmentDate time.Time `json:"appointmentDate"`
	Duration        int       `json:"duration,omitempty"`
	Reason          *string   `json:"reason,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

type UpdateAppointmentRequest struct {
	AppointmentDate *time.Time `json:"appointmentDate,omitempty"`
	Duration        *int       `json:"duration,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Status          *string    `json:"status,omitempty"`
}

type ChangeStatusRequest struct {
	Status             string  `json:"status"`
	CancellationReason *string `json:"cancellationReason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patientId"`
	DoctorID           uuid.UUID  `json:"doctorId"`
	SpecialtyID        *uuid.UUID `json:"specialtyId,omitempty"`
	AppointmentDate    time.Time  `json:"appointmentDate"`
	Duration           int        `json:"duration"`
	Reason             *string    `json:"reason,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	Status             string     `json:"status"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancellationReason *string    `json:"cancellationReason,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	IsRescheduled      bool       `json:"isRescheduled"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		SpecialtyID:        a.SpecialtyID,
		AppointmentDate:    a.AppointmentDate,
		Duration:           a.Duration,
		Reason:             a.Reason,
		Notes:              a.Notes,
		Status:             string(a.Status),
		CancelledAt:        a.CancelledAt,
		CancellationReason: a.CancellationReason,
		CompletedAt:        a.CompletedAt,
		IsRescheduled:      a.IsRescheduled,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type HistoryResponse struct {
	ID             uuid.UUID  `json:"id"`
	Action         string     `json:"action"`
	PreviousStatus *string    `json:"previousStatus,omitempty"`
	NewStatus      *string    `json:"newStatus,omitempty"`
	ChangedFields  []string   `json:"changedFields"`
	ChangedBy      *uuid.UUID `json:"changedBy,omitempty"`
	ChangedByRole  string     `json:"changedByRole"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type PageResponse struct {
	Items []AppointmentResponse `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
	Pages int                   `json:"pages"`
}

type CreateScheduleRequest struct {
	DoctorID     string `json:"doctorId"`
	DayOfWeek    int    `json:"dayOfWeek"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	SlotDuration int    `json:"slotDuration,omitempty"`
}

type UpdateScheduleRequest struct {
	DayOfWeek    *int    `json:"dayOfWeek,omitempty"`
	StartTime    *string `json:"startTime,omitempty"`
	EndTime      *string `json:"endTime,omitempty"`
	SlotDuration *int    `json:"slotDuration,omitempty"`
}

type ScheduleResponse struct {
	ID           uuid.UUID `json:"id"`
	DoctorID     uuid.UUID `json:"doctorId"`
	DayOfWeek    int       `json:"dayOfWeek"`
	StartTime    string    `json:"startTime"`
	EndTime      string    `json:"endTime"`
	SlotDuration int       `json:"slotDuration"`
	IsActive     bool      `json:"isActive"`
}

func toScheduleResponse(s *schedule.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:           s.ID,
		DoctorID:     s.DoctorID,
		DayOfWeek:    s.DayOfWeek,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		SlotDuration: s.SlotDuration,
		IsActive:     s.IsActive,
	}
}

type BlockedSlotRequest struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	StartTime string  `json:"startTime"`
	EndTime   string  `json:"endTime"`
	Reason    *string `json:"reason,omitempty"`
}

type BlockedSlotResponse struct {
	ID         uuid.UUID `json:"id"`
	ScheduleID uuid.UUID `json:"scheduleId"`
	Date       string    `json:"date"`
	StartTime  string    `json:"startTime"`
	EndTime    string    `json:"endTime"`
	Reason     *string   `json:"reason,omitempty"`
}

func toBlockedSlotResponse(b *schedule.BlockedSlot) BlockedSlotResponse {
	return BlockedSlotResponse{
		ID:         b.ID,
		ScheduleID: b.ScheduleID,
		Date:       b.Date.Format("2006-01-02"),
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		Reason:     b.Reason,
	}
}

type JoinQueueRequest struct {
	DoctorID      string  `json:"doctorId"`
	AppointmentID *string `json:"appointmentId,omitempty"`
}

type TicketResponse struct {
	ID                uuid.UUID  `json:"id"`
	DoctorID          uuid.UUID  `json:"doctorId"`
	PatientID         uuid.UUID  `json:"patientId"`
	AppointmentID     *uuid.UUID `json:"appointmentId,omitempty"`
	TicketNumber      int        `json:"ticketNumber"`
	QueueDate         string     `json:"queueDate"`
	Status            string     `json:"status"`
	Position          int        `json:"position"`
	EstimatedWaitTime int        `json:"estimatedWaitTime"`
	CalledAt          *time.Time `json:"calledAt,omitempty"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func toTicketResponse(t *queue.QueueTicket) TicketResponse {
	return TicketResponse{
		ID:                t.ID,
		DoctorID:          t.DoctorID,
		PatientID:         t.PatientID,
		AppointmentID:     t.AppointmentID,
		TicketNumber:      t.TicketNumber,
		QueueDate:         t.QueueDate.Format("2006-01-02"),
		Status:            string(t.Status),
		Position:          t.Position,
		EstimatedWaitTime: t.EstimatedWaitTime,
		CalledAt:          t.CalledAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		CreatedAt:         t.CreatedAt,
	}
}

type JoinQueueResponse struct {
	Ticket            TicketResponse `json:"ticket"`
	Duplicate         bool           `json:"duplicate"`
	Position          int            `json:"position"`
	EstimatedWaitTime int            `json:"estimatedWaitTime"`
}

type PositionResponse struct {
	Ticket            TicketResponse `json:"ticket"`
	Position          int            `json:"position"`
	EstimatedWaitTime int            `json:"estimatedWaitTime"`
	AppointmentStatus string         `json:"appointmentStatus,omitempty"`
}

type QueueEntryResponse struct {
	TicketResponse
	WaitingMinutes int `json:"waitingMinutes"`
}
