package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
	"github.com/clinicore/clinic-scheduling/internal/redisclient"
)

const (
	defaultServiceMinutes = 15
	minServiceMinutes     = 5
	avgSampleSize         = 50
)

// AppointmentGateway is the slice of the appointment engine the queue needs:
// confirming a linked appointment on join and annotating positions with its
// status.
type AppointmentGateway interface {
	ConfirmForQueue(ctx context.Context, id uuid.UUID) error
	AppointmentStatus(ctx context.Context, id uuid.UUID) (string, error)
}

// Service runs one FIFO line per doctor and calendar day, keyed by
// ticketNumber. Joins and recomputes are serialized per (doctor, day)
// through the redis lock; the unique constraint on (doctor, day,
// ticketNumber) is the correctness backstop.
type Service struct {
	repo   Repository
	appts  AppointmentGateway
	locker redisclient.Locker
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, appts AppointmentGateway, locker redisclient.Locker, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		appts:  appts,
		locker: locker,
		logger: logger.With().Str("component", "queue").Logger(),
		now:    time.Now,
	}
}

type JoinResult struct {
	Ticket            *QueueTicket
	Duplicate         bool
	Position          int
	EstimatedWaitTime int
}

// Join places a patient in the doctor's line for today. Joining twice is
/// idempotent: the open ticket is returned with Duplicate set. A linked
// appointment is confirmed either way.
func (s *Service) Join(ctx context.Context, doctorID, patientID uuid.UUID, appointmentID *uuid.UUID) (*JoinResult, error) {
	day := dayStartUTC(s.now())

	var result *JoinResult
	err := s.locker.WithQueueLock(ctx, doctorID, day, func(ctx context.Context) error {
		existing, err := s.repo.FindOpenTicket(ctx, doctorID, patientID, day)
		if err != nil {
			return fmt.Errorf("find open ticket: %w", err)
		}
		if existing != nil {
			pos, eta, err := s.refreshPosition(ctx, existing)
			if err != nil {
				return err
			}
			result = &JoinResult{Ticket: existing, Duplicate: true, Position: pos, EstimatedWaitTime: eta}
			return nil
		}

		ticket, err := s.insertTicket(ctx, doctorID, patientID, appointmentID, day)
		if err != nil {
			return err
		}
		result = &JoinResult{
			Ticket:            ticket,
			Position:          ticket.Position,
			EstimatedWaitTime: ticket.EstimatedWaitTime,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, apperror.New(apperror.KindConflict, "QUEUE_BUSY",
				"queue is busy, retry the join")
		}
		return nil, err
	}

	s.confirmLinkedAppointment(ctx, appointmentID, result.Ticket)
	return result, nil
}

// insertTicket allocates max+1 and inserts. A unique-constraint hit means a
// competing writer won the number despite the lock, so re-read and retry
// once.
func (s *Service) insertTicket(ctx context.Context, doctorID, patientID uuid.UUID, appointmentID *uuid.UUID, day time.Time) (*QueueTicket, error) {
	avg, err := s.AverageServiceMinutes(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		max, err := s.repo.MaxTicketNumber(ctx, doctorID, day)
		if err != nil {
			return nil, fmt.Errorf("max ticket number: %w", err)
		}
		open, err := s.repo.ListOpen(ctx, doctorID, day)
		if err != nil {
			return nil, fmt.Errorf("list open tickets: %w", err)
		}
		ahead := len(open)

		now := s.now().UTC()
		ticket := &QueueTicket{
			ID:                uuid.New(),
			DoctorID:          doctorID,
			PatientID:         patientID,
			AppointmentID:     appointmentID,
			TicketNumber:      max + 1,
			QueueDate:         day,
			Status:            TicketWaiting,
			Position:          ahead + 1,
			EstimatedWaitTime: ahead * avg,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		err = s.repo.Create(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, ErrDuplicateTicketNumber) {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		s.logger.Warn().
			Str("doctorId", doctorID.String()).
			Int("ticketNumber", ticket.TicketNumber).
			Msg("ticket number collision, retrying")
	}
	return nil, apperror.New(apperror.KindConflict, "QUEUE_BUSY",
		"could not allocate a ticket number, retry the join")
}

func (s *Service) confirmLinkedAppointment(ctx context.Context, appointmentID *uuid.UUID, ticket *QueueTicket) {
	id := appointmentID
	if id == nil {
		id = ticket.AppointmentID
	}
	if id == nil {
		return
	}
	if err := s.appts.ConfirmForQueue(ctx, *id); err != nil {
		s.logger.Warn().Err(err).
			Str("appointmentId", id.String()).
			Str("ticketId", ticket.ID.String()).
			Msg("could not confirm linked appointment")
	}
}

// AverageServiceMinutes is the mean service duration over the most recent
// completed tickets, rounded and floored at 5 minutes. With no history the
// default applies.
func (s *Service) AverageServiceMinutes(ctx context.Context, doctorID uuid.UUID) (int, error) {
	recent, err := s.repo.ListRecentCompleted(ctx, doctorID, avgSampleSize)
	if err != nil {
		return 0, fmt.Errorf("list completed tickets: %w", err)
	}

	var total float64
	var n int
	for _, t := range recent {
		if t.StartedAt == nil || t.CompletedAt == nil {
			continue
		}
		total += t.CompletedAt.Sub(*t.StartedAt).Minutes()
		n++
	}
	if n == 0 {
		return defaultServiceMinutes, nil
	}

	avg := int(math.Round(total / float64(n)))
	if avg < minServiceMinutes {
		avg = minServiceMinutes
	}
	return avg, nil
}

// CallNext calls the oldest WAITING ticket and shifts the rest of the line.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID) (*QueueTicket, error) {
	day := dayStartUTC(s.now())

	var called *QueueTicket
	err := s.locker.WithQueueLock(ctx, doctorID, day, func(ctx context.Context) error {
		waiting, err := s.repo.ListWaiting(ctx, doctorID, day)
		if err != nil {
			return fmt.Errorf("list waiting tickets: %w", err)
		}
		if len(waiting) == 0 {
			return apperror.New(apperror.KindNotFound, "EMPTY_QUEUE", "no waiting tickets")
		}

		now := s.now().UTC()
		next := waiting[0]
		next.Status = TicketCalled
		next.CalledAt = &now
		next.Position = 1
		next.EstimatedWaitTime = 0
		next.UpdatedAt = now
		if err := s.repo.Update(ctx, &next); err != nil {
			return fmt.Errorf("call ticket: %w", err)
		}
		called = &next

		avg, err := s.AverageServiceMinutes(ctx, doctorID)
		if err != nil {
			return err
		}
		// The just-called ticket still heads the line, so the remaining
		// waiting tickets start at position 2.
		for idx, t := range waiting[1:] {
			t.Position = idx + 2
			t.EstimatedWaitTime = (idx + 1) * avg
			t.UpdatedAt = now
			if err := s.repo.Update(ctx, &t); err != nil {
				return fmt.Errorf("recompute position for ticket %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, apperror.New(apperror.KindConflict, "QUEUE_BUSY", "queue is busy, retry")
		}
		return nil, err
	}
	return called, nil
}

// CallTicket calls a specific ticket out of FIFO order.
func (s *Service) CallTicket(ctx context.Context, ticketID uuid.UUID) (*QueueTicket, error) {
	return s.transition(ctx, ticketID, TicketCalled)
}

// StartTicket marks a specific ticket as in consultation.
func (s *Service) StartTicket(ctx context.Context, ticketID uuid.UUID) (*QueueTicket, error) {
	return s.transition(ctx, ticketID, TicketInProgress)
}

func (s *Service) transition(ctx context.Context, ticketID uuid.UUID, next TicketStatus) (*QueueTicket, error) {
	ticket, err := s.repo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, ticketNotFoundOr(err)
	}
	if IsTerminal(ticket.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "TICKET_ALREADY_CLOSED",
			"ticket is already %s", ticket.Status)
	}

	now := s.now().UTC()
	switch next {
	case TicketCalled:
		ticket.CalledAt = &now
	case TicketInProgress:
		ticket.StartedAt = &now
	}
	ticket.Status = next
	ticket.UpdatedAt = now

	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("transition ticket to %s: %w", next, err)
	}
	return ticket, nil
}

// CompleteTicket closes a consultation and shifts the remaining line. A
// ticket completed without ever being started gets startedAt backfilled so
// the service-time statistic stays meaningful.
func (s *Service) CompleteTicket(ctx context.Context, ticketID uuid.UUID) (*QueueTicket, error) {
	ticket, err := s.repo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, ticketNotFoundOr(err)
	}
	if IsTerminal(ticket.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "TICKET_ALREADY_CLOSED",
			"ticket is already %s", ticket.Status)
	}

	now := s.now().UTC()
	if ticket.StartedAt == nil {
		if ticket.CalledAt != nil {
			ticket.StartedAt = ticket.CalledAt
		} else {
			ticket.StartedAt = &now
		}
	}
	ticket.Status = TicketCompleted
	ticket.CompletedAt = &now
	ticket.UpdatedAt = now
	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("complete ticket: %w", err)
	}

	avg, err := s.AverageServiceMinutes(ctx, ticket.DoctorID)
	if err != nil {
		return nil, err
	}
	waiting, err := s.repo.ListWaiting(ctx, ticket.DoctorID, ticket.QueueDate)
	if err != nil {
		return nil, fmt.Errorf("list waiting tickets: %w", err)
	}
	for idx, t := range waiting {
		t.Position = idx + 1
		t.EstimatedWaitTime = idx * avg
		t.UpdatedAt = now
		if err := s.repo.Update(ctx, &t); err != nil {
			return nil, fmt.Errorf("recompute position for ticket %s: %w", t.ID, err)
		}
	}
	return ticket, nil
}

// MarkNoShow closes a ticket whose patient never showed up. Positions of the
// rest of the line refresh lazily on the next queue movement.
func (s *Service) MarkNoShow(ctx context.Context, ticketID uuid.UUID) (*QueueTicket, error) {
	return s.close(ctx, ticketID, TicketNoShow)
}

// CancelTicket withdraws a ticket from the line.
func (s *Service) CancelTicket(ctx context.Context, ticketID uuid.UUID) (*QueueTicket, error) {
	return s.close(ctx, ticketID, TicketCancelled)
}

func (s *Service) close(ctx context.Context, ticketID uuid.UUID, next TicketStatus) (*QueueTicket, error) {
	ticket, err := s.repo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, ticketNotFoundOr(err)
	}
	if IsTerminal(ticket.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "TICKET_ALREADY_CLOSED",
			"ticket is already %s", ticket.Status)
	}

	now := s.now().UTC()
	switch next {
	case TicketNoShow:
		ticket.NoShowAt = &now
	case TicketCancelled:
		ticket.CancelledAt = &now
	}
	ticket.Status = next
	ticket.UpdatedAt = now

	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}
	return ticket, nil
}

type PositionInfo struct {
	Ticket            *QueueTicket
	Position          int
	EstimatedWaitTime int
	AppointmentStatus string
}

// GetPosition recomputes a ticket's place and ETA on demand, persists the
// refreshed numbers and annotates the linked appointment's status.
func (s *Service) GetPosition(ctx context.Context, ticketID uuid.UUID) (*PositionInfo, error) {
	ticket, err := s.repo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, ticketNotFoundOr(err)
	}

	info := &PositionInfo{Ticket: ticket, Position: ticket.Position, EstimatedWaitTime: ticket.EstimatedWaitTime}
	if ticket.Status == TicketWaiting {
		pos, eta, err := s.refreshPosition(ctx, ticket)
		if err != nil {
			return nil, err
		}
		info.Position = pos
		info.EstimatedWaitTime = eta
	}

	if ticket.AppointmentID != nil {
		status, err := s.appts.AppointmentStatus(ctx, *ticket.AppointmentID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("appointmentId", ticket.AppointmentID.String()).
				Msg("could not resolve linked appointment status")
		} else {
			info.AppointmentStatus = status
		}
	}
	return info, nil
}

// refreshPosition counts the open tickets ahead of this one and persists the
// derived position and ETA.
func (s *Service) refreshPosition(ctx context.Context, ticket *QueueTicket) (int, int, error) {
	open, err := s.repo.ListOpen(ctx, ticket.DoctorID, ticket.QueueDate)
	if err != nil {
		return 0, 0, fmt.Errorf("list open tickets: %w", err)
	}
	ahead := 0
	for _, t := range open {
		if t.TicketNumber < ticket.TicketNumber {
			ahead++
		}
	}

	avg, err := s.AverageServiceMinutes(ctx, ticket.DoctorID)
	if err != nil {
		return 0, 0, err
	}

	ticket.Position = ahead + 1
	ticket.EstimatedWaitTime = ahead * avg
	ticket.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, ticket); err != nil {
		return 0, 0, fmt.Errorf("persist refreshed position: %w", err)
	}
	return ticket.Position, ticket.EstimatedWaitTime, nil
}

// TicketView is a queue listing entry with the elapsed wait annotated.
type TicketView struct {
	QueueTicket
	WaitingMinutes int
}

// GetDoctorCurrentQueue lists the doctor's tickets for a day in FIFO order.
/// WaitingMinutes runs from creation to a state-dependent reference: now for
// WAITING, calledAt for CALLED, startedAt for IN_PROGRESS, and the first
// available stamp for closed tickets.
func (s *Service) GetDoctorCurrentQueue(ctx context.Context, doctorID uuid.UUID, day time.Time, includeFinished bool) ([]TicketView, error) {
	tickets, err := s.repo.ListForDay(ctx, doctorID, dayStartUTC(day), includeFinished)
	if err != nil {
		return nil, fmt.Errorf("list day tickets: %w", err)
	}

	now := s.now().UTC()
	views := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		ref := now
		switch t.Status {
		case TicketWaiting:
		case TicketCalled:
			if t.CalledAt != nil {
				ref = *t.CalledAt
			}
		case TicketInProgress:
			if t.StartedAt != nil {
				ref = *t.StartedAt
			}
		default:
			for _, stamp := range []*time.Time{t.StartedAt, t.CalledAt, t.CompletedAt} {
				if stamp != nil {
					ref = *stamp
					break
				}
			}
		}
		minutes := int(ref.Sub(t.CreatedAt).Minutes())
		if minutes < 0 {
			minutes = 0
		}
		views = append(views, TicketView{QueueTicket: t, WaitingMinutes: minutes})
	}
	return views, nil
}

// CurrentTicket is the ticket the doctor is attending right now:
// IN_PROGRESS preferred, else the CALLED one, else nil.
func (s *Service) CurrentTicket(ctx context.Context, doctorID uuid.UUID, day time.Time) (*QueueTicket, error) {
	open, err := s.repo.ListOpen(ctx, doctorID, dayStartUTC(day))
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}

	var called *QueueTicket
	for i := range open {
		switch open[i].Status {
		case TicketInProgress:
			return &open[i], nil
		case TicketCalled:
			if called == nil {
				called = &open[i]
			}
		}
	}
	return called, nil
}

func ticketNotFoundOr(err error) error {
	if errors.Is(err, ErrTicketNotFound) {
		return apperror.New(apperror.KindNotFound, "TICKET_NOT_FOUND", "queue ticket not found")
	}
	return err
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
