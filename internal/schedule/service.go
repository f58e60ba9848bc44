package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/timegrid"
)

const defaultSlotDuration = 30

// Options bound the rescheduler's sweeps.
type Options struct {
	RescheduleHorizonDays int // how far ahead to scan for affected appointments
	SlotSearchDays        int // how far ahead to search for a replacement slot
}

// Service owns the schedule store, the availability resolver and the slot
// validation the appointment engine books against. A schedule mutation fires
// the rescheduler in a detached goroutine.
type Service struct {
	repo    Repository
	appts   appointment.Repository
	resched *Rescheduler
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, appts appointment.Repository, notifier appointment.Notifier, opts Options, logger zerolog.Logger) *Service {
	if opts.RescheduleHorizonDays <= 0 {
		opts.RescheduleHorizonDays = 30
	}
	if opts.SlotSearchDays <= 0 {
		opts.SlotSearchDays = 14
	}
	s := &Service{
		repo:   repo,
		appts:  appts,
		logger: logger.With().Str("component", "schedules").Logger(),
		now:    time.Now,
	}
	s.resched = &Rescheduler{
		svc:         s,
		appts:       appts,
		notifier:    notifier,
		logger:      logger.With().Str("component", "rescheduler").Logger(),
		now:         time.Now,
		horizonDays: opts.RescheduleHorizonDays,
		searchDays:  opts.SlotSearchDays,
	}
	return s
}

// Rescheduler exposes the relocation engine for manual sweeps.
func (s *Service) Rescheduler() *Rescheduler {
	return s.resched
}

type CreateInput struct {
	DoctorID     uuid.UUID
	DayOfWeek    int
	StartTime    string
	EndTime      string
	SlotDuration int
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	if in.SlotDuration == 0 {
		in.SlotDuration = defaultSlotDuration
	}
	startM, endM, err := validateWindow(in.DayOfWeek, in.StartTime, in.EndTime, in.SlotDuration)
	if err != nil {
		return nil, err
	}

	if err := s.checkWindowOverlap(ctx, in.DoctorID, in.DayOfWeek, startM, endM, nil); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sched := &Schedule{
		ID:           uuid.New(),
		DoctorID:     in.DoctorID,
		DayOfWeek:    in.DayOfWeek,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		SlotDuration: in.SlotDuration,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return sched, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, scheduleNotFoundOr(err)
	}
	return sched, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, onlyActive bool) ([]Schedule, error) {
	return s.repo.ListByDoctor(ctx, doctorID, onlyActive)
}

type UpdateInput struct {
	DayOfWeek    *int
	StartTime    *string
	EndTime      *string
	SlotDuration *int
}

// Update edits a window and fires the rescheduler for whatever part of the
// old window the edit no longer covers.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Schedule, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, scheduleNotFoundOr(err)
	}

	target := *current
	if in.DayOfWeek != nil {
		target.DayOfWeek = *in.DayOfWeek
	}
	if in.StartTime != nil {
		target.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		target.EndTime = *in.EndTime
	}
	if in.SlotDuration != nil {
		target.SlotDuration = *in.SlotDuration
	}

	startM, endM, err := validateWindow(target.DayOfWeek, target.StartTime, target.EndTime, target.SlotDuration)
	if err != nil {
		return nil, err
	}
	if err := s.checkWindowOverlap(ctx, target.DoctorID, target.DayOfWeek, startM, endM, &target.ID); err != nil {
		return nil, err
	}

	target.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, &target); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	windows := ComputeLostWindows(current, &target)
	s.triggerRescheduler(current.DoctorID, windows)
	return &target, nil
}

// Delete deactivates a window. The rows stay so audits and diffs keep
// working; the whole window becomes lost.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return scheduleNotFoundOr(err)
	}
	if !current.IsActive {
		return nil
	}

	target := *current
	target.IsActive = false
	target.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, &target); err != nil {
		return fmt.Errorf("deactivate schedule: %w", err)
	}

	windows := []LostWindow{{DayOfWeek: current.DayOfWeek, StartTime: current.StartTime, EndTime: current.EndTime}}
	s.triggerRescheduler(current.DoctorID, windows)
	return nil
}

func (s *Service) triggerRescheduler(doctorID uuid.UUID, windows []LostWindow) {
	if len(windows) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		report, err := s.resched.RescheduleInWindows(ctx, doctorID, windows, s.now().UTC())
		if err != nil {
			s.logger.Error().Err(err).Str("doctorId", doctorID.String()).Msg("rescheduler run failed")
			return
		}
		s.logger.Info().
			Str("doctorId", doctorID.String()).
			Int("processed", report.Processed).
			Int("moved", report.Moved).
			Int("notFoundSlot", report.NotFoundSlot).
			Msg("rescheduler run finished")
	}()
}

type BlockedSlotInput struct {
	ScheduleID uuid.UUID
	Date       time.Time
	StartTime  string
	EndTime    string
	Reason     *string
}

func (s *Service) AddBlockedSlot(ctx context.Context, in BlockedSlotInput) (*BlockedSlot, error) {
	sched, err := s.repo.GetByID(ctx, in.ScheduleID)
	if err != nil {
		return nil, scheduleNotFoundOr(err)
	}

	startM, err := timegrid.ToMinutes(in.StartTime)
	if err != nil {
		return nil, apperror.Newf(apperror.KindValidation, "INVALID_TIME_FORMAT", "bad start time %q", in.StartTime)
	}
	endM, err := timegrid.ToMinutes(in.EndTime)
	if err != nil {
		return nil, apperror.Newf(apperror.KindValidation, "INVALID_TIME_FORMAT", "bad end time %q", in.EndTime)
	}
	if endM <= startM {
		return nil, apperror.New(apperror.KindValidation, "INVALID_TIME_RANGE", "end time must be after start time")
	}

	blocked := &BlockedSlot{
		ID:         uuid.New(),
		ScheduleID: sched.ID,
		Date:       dayStartUTC(in.Date),
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Reason:     in.Reason,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateBlockedSlot(ctx, blocked); err != nil {
		return nil, fmt.Errorf("create blocked slot: %w", err)
	}
	return blocked, nil
}

func (s *Service) RemoveBlockedSlot(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteBlockedSlot(ctx, id); err != nil {
		if errors.Is(err, ErrBlockedSlotNotFound) {
			return apperror.New(apperror.KindNotFound, "NOT_FOUND", "blocked slot not found")
		}
		return err
	}
	return nil
}

func (s *Service) ListBlockedSlots(ctx context.Context, scheduleID uuid.UUID) ([]BlockedSlot, error) {
	if _, err := s.repo.GetByID(ctx, scheduleID); err != nil {
		return nil, scheduleNotFoundOr(err)
	}
	return s.repo.ListBlockedBySchedule(ctx, scheduleID)
}

// GetAvailability lists every slot of the doctor's active windows for a
// calendar date, flagging those taken by an appointment or a blocked range.
// No windows for that weekday is a valid empty result, not an error.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	day := dayStartUTC(date)
	schedules, err := s.repo.ListActiveByDoctorDay(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) == 0 {
		return []Slot{}, nil
	}

	booked, err := s.appts.ListByDoctorOn(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	occupied := make(map[string]bool, len(booked))
	for _, a := range booked {
		occupied[a.AppointmentDate.UTC().Format("15:04")] = true
	}

	scheduleIDs := make([]uuid.UUID, len(schedules))
	for i, sched := range schedules {
		scheduleIDs[i] = sched.ID
	}
	blocked, err := s.repo.ListBlockedOn(ctx, scheduleIDs, day)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	type minuteRange struct{ start, end int }
	var blockedRanges []minuteRange
	for _, b := range blocked {
		startM, err := timegrid.ToMinutes(b.StartTime)
		if err != nil {
			continue
		}
		endM, err := timegrid.ToMinutes(b.EndTime)
		if err != nil {
			continue
		}
		blockedRanges = append(blockedRanges, minuteRange{startM, endM})
	}

	var slots []Slot
	for _, sched := range schedules {
		times, err := timegrid.GenerateSlots(sched.StartTime, sched.EndTime, sched.SlotDuration)
		if err != nil {
			s.logger.Warn().Err(err).Str("scheduleId", sched.ID.String()).Msg("skipping malformed schedule window")
			continue
		}
		for _, t := range times {
			slot := Slot{Time: t, Available: true}
			switch {
			case occupied[t]:
				slot.Available = false
				slot.Reason = SlotReasonAppointment
			default:
				m, _ := timegrid.ToMinutes(t)
				for _, br := range blockedRanges {
					if m >= br.start && m < br.end {
						slot.Available = false
						slot.Reason = SlotReasonBlocked
						break
					}
				}
			}
			slots = append(slots, slot)
		}
	}

	// HH:mm is fixed-width, lexicographic order is chronological order.
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

// ValidateSlot checks a proposed booking against the doctor's windows,
// blocked ranges and existing appointments. Satisfies the appointment
// engine's SlotValidator.
func (s *Service) ValidateSlot(ctx context.Context, doctorID uuid.UUID, start time.Time, duration int, excludeAppointmentID *uuid.UUID) error {
	start = start.UTC()
	day := dayStartUTC(start)
	startM := start.Hour()*60 + start.Minute()
	endM := startM + duration

	schedules, err := s.repo.ListActiveByDoctorDay(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) == 0 {
		return apperror.New(apperror.KindValidation, "NO_SCHEDULE",
			"doctor has no schedule for that day")
	}

	var covering *Schedule
	for i := range schedules {
		schedStart, err := timegrid.ToMinutes(schedules[i].StartTime)
		if err != nil {
			continue
		}
		schedEnd, err := timegrid.ToMinutes(schedules[i].EndTime)
		if err != nil {
			continue
		}
		if startM >= schedStart && endM <= schedEnd {
			covering = &schedules[i]
			break
		}
	}
	if covering == nil {
		return apperror.New(apperror.KindValidation, "OUT_OF_SCHEDULE",
			"requested time falls outside the doctor's working hours")
	}

	schedStart, _ := timegrid.ToMinutes(covering.StartTime)
	if (startM-schedStart)%covering.SlotDuration != 0 {
		return apperror.Newf(apperror.KindConflict, "GRID_MISALIGNED",
			"time is not aligned to the %d-minute slot grid", covering.SlotDuration)
	}

	blocked, err := s.repo.ListBlockedOn(ctx, []uuid.UUID{covering.ID}, day)
	if err != nil {
		return fmt.Errorf("list blocked slots: %w", err)
	}
	for _, b := range blocked {
		bStart, err := timegrid.ToMinutes(b.StartTime)
		if err != nil {
			continue
		}
		bEnd, err := timegrid.ToMinutes(b.EndTime)
		if err != nil {
			continue
		}
		if timegrid.Overlaps(startM, endM, bStart, bEnd) {
			return apperror.New(apperror.KindConflict, "BLOCKED_SLOT",
				"requested time falls inside a blocked range")
		}
	}

	booked, err := s.appts.ListByDoctorOn(ctx, doctorID, day)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	end := start.Add(time.Duration(duration) * time.Minute)
	for _, a := range booked {
		if excludeAppointmentID != nil && a.ID == *excludeAppointmentID {
			continue
		}
		if !appointment.IsActive(a.Status) {
			continue
		}
		if start.Before(a.End()) && a.AppointmentDate.Before(end) {
			return apperror.New(apperror.KindConflict, "OVERLAPPING_APPOINTMENT",
				"requested interval overlaps an existing appointment").
				With("conflictingId", a.ID)
		}
	}
	return nil
}

func validateWindow(dayOfWeek int, startTime, endTime string, slotDuration int) (int, int, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return 0, 0, apperror.Newf(apperror.KindValidation, "INVALID_DAY_OF_WEEK",
			"dayOfWeek must be 0-6, got %d", dayOfWeek)
	}
	startM, err := timegrid.ToMinutes(startTime)
	if err != nil {
		return 0, 0, apperror.Newf(apperror.KindValidation, "INVALID_TIME_FORMAT", "bad start time %q", startTime)
	}
	endM, err := timegrid.ToMinutes(endTime)
	if err != nil {
		return 0, 0, apperror.Newf(apperror.KindValidation, "INVALID_TIME_FORMAT", "bad end time %q", endTime)
	}
	if endM <= startM {
		return 0, 0, apperror.New(apperror.KindValidation, "INVALID_TIME_RANGE",
			"end time must be after start time")
	}
	if slotDuration <= 0 {
		return 0, 0, apperror.Newf(apperror.KindValidation, "INVALID_SLOT_DURATION",
			"slot duration must be positive, got %d", slotDuration)
	}
	return startM, endM, nil
}

func (s *Service) checkWindowOverlap(ctx context.Context, doctorID uuid.UUID, dayOfWeek, startM, endM int, excludeID *uuid.UUID) error {
	existing, err := s.repo.ListActiveByDoctorDay(ctx, doctorID, dayOfWeek)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	for _, other := range existing {
		if excludeID != nil && other.ID == *excludeID {
			continue
		}
		otherStart, err := timegrid.ToMinutes(other.StartTime)
		if err != nil {
			continue
		}
		otherEnd, err := timegrid.ToMinutes(other.EndTime)
		if err != nil {
			continue
		}
		if timegrid.Overlaps(startM, endM, otherStart, otherEnd) {
			return apperror.New(apperror.KindConflict, "SCHEDULE_OVERLAP",
				"window overlaps another active schedule for that day").
				With("conflictingId", other.ID)
		}
	}
	return nil
}

func scheduleNotFoundOr(err error) error {
	if errors.Is(err, ErrScheduleNotFound) {
		return apperror.New(apperror.KindNotFound, "NOT_FOUND", "schedule not found")
	}
	return err
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
