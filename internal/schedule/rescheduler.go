package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/timegrid"
)

// Rescheduler relocates appointments orphaned by a schedule edit or delete.
// It never cancels: an appointment with no replacement slot gets a
// RESCHEDULE_ATTEMPT audit row and stays where it is for operators to
// resolve.
type Rescheduler struct {
	svc         *Service
	appts       appointment.Repository
	notifier    appointment.Notifier
	logger      zerolog.Logger
	now         func() time.Time
	horizonDays int
	searchDays  int
}

// movableStates are the statuses the rescheduler may relocate. IN_PROGRESS
// and terminal appointments are never touched.
var movableStates = []appointment.Status{appointment.StatusScheduled, appointment.StatusConfirmed}

// Report aggregates one window-driven run.
type Report struct {
	Processed    int `json:"processed"`
	Moved        int `json:"moved"`
	NotFoundSlot int `json:"notFoundSlot"`
}

// SweepReport aggregates one full re-validation sweep.
type SweepReport struct {
	Processed int `json:"processed"`
	Moved     int `json:"moved"`
	Skipped   int `json:"skipped"`
}

// ComputeLostWindows diffs an old window against its replacement. A
// day-of-week change loses the whole old window; otherwise a shrink can lose
// a piece at the front, at the back, or both.
func ComputeLostWindows(old, updated *Schedule) []LostWindow {
	whole := []LostWindow{{DayOfWeek: old.DayOfWeek, StartTime: old.StartTime, EndTime: old.EndTime}}
	if !updated.IsActive || updated.DayOfWeek != old.DayOfWeek {
		return whole
	}

	oldStart, err := timegrid.ToMinutes(old.StartTime)
	if err != nil {
		return nil
	}
	oldEnd, err := timegrid.ToMinutes(old.EndTime)
	if err != nil {
		return nil
	}
	newStart, err := timegrid.ToMinutes(updated.StartTime)
	if err != nil {
		return whole
	}
	newEnd, err := timegrid.ToMinutes(updated.EndTime)
	if err != nil {
		return whole
	}

	// Disjoint replacement loses everything.
	if newStart >= oldEnd || newEnd <= oldStart {
		return whole
	}

	var windows []LostWindow
	if newStart > oldStart {
		windows = append(windows, LostWindow{
			DayOfWeek: old.DayOfWeek,
			StartTime: old.StartTime,
			EndTime:   timegrid.ToHHMM(newStart),
		})
	}
	if newEnd < oldEnd {
		windows = append(windows, LostWindow{
			DayOfWeek: old.DayOfWeek,
			StartTime: timegrid.ToHHMM(newEnd),
			EndTime:   old.EndTime,
		})
	}
	return windows
}

// RescheduleInWindows relocates every movable appointment of the doctor
// whose weekly (day, time) falls inside one of the lost windows, scanning
// [fromDate, fromDate+horizon).
func (r *Rescheduler) RescheduleInWindows(ctx context.Context, doctorID uuid.UUID, windows []LostWindow, fromDate time.Time) (*Report, error) {
	report := &Report{}
	if len(windows) == 0 {
		return report, nil
	}

	from := fromDate.UTC()
	to := from.AddDate(0, 0, r.horizonDays)
	appts, err := r.appts.ListByDoctorBetween(ctx, doctorID, movableStates, from, to)
	if err != nil {
		return nil, fmt.Errorf("list affected appointments: %w", err)
	}

	for i := range appts {
		a := &appts[i]
		if !inLostWindow(a, windows) {
			continue
		}
		report.Processed++

		moved, err := r.relocate(ctx, a)
		if err != nil {
			return report, err
		}
		if moved {
			report.Moved++
		} else {
			report.NotFoundSlot++
		}
	}
	return report, nil
}

// RescheduleOutOfSchedule re-validates every movable appointment of the
// doctor against the current schedules and relocates those that no longer
// fit. Used for manual reconciliation.
func (r *Rescheduler) RescheduleOutOfSchedule(ctx context.Context, doctorID uuid.UUID, fromDate time.Time) (*SweepReport, error) {
	report := &SweepReport{}

	from := fromDate.UTC()
	to := from.AddDate(0, 0, r.horizonDays)
	appts, err := r.appts.ListByDoctorBetween(ctx, doctorID, movableStates, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	for i := range appts {
		a := &appts[i]
		report.Processed++

		verr := r.svc.ValidateSlot(ctx, a.DoctorID, a.AppointmentDate, a.Duration, &a.ID)
		if verr == nil {
			report.Skipped++
			continue
		}
		if _, ok := apperror.From(verr); !ok {
			return report, verr
		}

		moved, err := r.relocate(ctx, a)
		if err != nil {
			return report, err
		}
		if moved {
			report.Moved++
		} else {
			// Counted as processed but neither moved nor still fitting;
			// the RESCHEDULE_ATTEMPT row carries the detail.
			report.Skipped++
		}
	}
	return report, nil
}

func inLostWindow(a *appointment.Appointment, windows []LostWindow) bool {
	at := a.AppointmentDate.UTC()
	day := int(at.Weekday())
	minute := at.Hour()*60 + at.Minute()
	for _, w := range windows {
		if w.DayOfWeek != day {
			continue
		}
		startM, err := timegrid.ToMinutes(w.StartTime)
		if err != nil {
			continue
		}
		endM, err := timegrid.ToMinutes(w.EndTime)
		if err != nil {
			continue
		}
		if minute >= startM && minute < endM {
			return true
		}
	}
	return false
}

// relocate moves one appointment to the first available slot found by the
// forward search, or appends a RESCHEDULE_ATTEMPT row when none exists.
func (r *Rescheduler) relocate(ctx context.Context, a *appointment.Appointment) (bool, error) {
	target, ok, err := r.findNextSlot(ctx, a)
	if err != nil {
		return false, err
	}

	now := r.now().UTC()
	if !ok {
		prevStatus := a.Status
		hist := &appointment.History{
			ID:             uuid.New(),
			AppointmentID:  a.ID,
			Action:         appointment.ActionRescheduleAttempt,
			PreviousStatus: &prevStatus,
			NewStatus:      &prevStatus,
			PreviousData:   rescheduleSnapshot(a.AppointmentDate),
			NewData:        rescheduleSnapshot(a.AppointmentDate),
			ChangedFields:  []string{},
			ChangedByRole:  appointment.RoleSystem,
			CreatedAt:      now,
		}
		if err := r.appts.AppendHistory(ctx, hist); err != nil {
			return false, fmt.Errorf("record reschedule attempt: %w", err)
		}
		r.logger.Warn().
			Str("appointmentId", a.ID.String()).
			Time("appointmentDate", a.AppointmentDate).
			Int("searchDays", r.searchDays).
			Msg("no replacement slot found, appointment left in place")
		return false, nil
	}

	previous := *a
	updated := *a
	updated.AppointmentDate = target
	updated.Status = appointment.StatusRescheduled
	updated.IsRescheduled = true
	updated.UpdatedAt = now

	prevStatus := previous.Status
	newStatus := appointment.StatusRescheduled
	hist := &appointment.History{
		ID:             uuid.New(),
		AppointmentID:  a.ID,
		Action:         appointment.ActionRescheduled,
		PreviousStatus: &prevStatus,
		NewStatus:      &newStatus,
		PreviousData:   rescheduleSnapshot(previous.AppointmentDate),
		NewData:        rescheduleSnapshot(target),
		ChangedFields:  []string{"appointmentDate", "status", "isRescheduled"},
		ChangedByRole:  appointment.RoleSystem,
		CreatedAt:      now,
	}
	if err := r.appts.UpdateWithHistory(ctx, &updated, hist); err != nil {
		return false, fmt.Errorf("move appointment: %w", err)
	}

	r.notifier.AppointmentRescheduled(previous, updated)
	r.logger.Info().
		Str("appointmentId", a.ID.String()).
		Time("from", previous.AppointmentDate).
		Time("to", target).
		Msg("appointment relocated")
	return true, nil
}

// findNextSlot searches forward day by day from the appointment's own date.
// On day zero only slots at or after the original time of day count, so an
// afternoon appointment never lands in the already elapsed morning.
func (r *Rescheduler) findNextSlot(ctx context.Context, a *appointment.Appointment) (time.Time, bool, error) {
	origDay := dayStartUTC(a.AppointmentDate)
	origMinute := a.AppointmentDate.UTC().Hour()*60 + a.AppointmentDate.UTC().Minute()
	now := r.now().UTC()

	for offset := 0; offset < r.searchDays; offset++ {
		date := origDay.AddDate(0, 0, offset)
		slots, err := r.svc.GetAvailability(ctx, a.DoctorID, date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("availability for %s: %w", date.Format("2006-01-02"), err)
		}
		for _, slot := range slots {
			if !slot.Available {
				continue
			}
			m, err := timegrid.ToMinutes(slot.Time)
			if err != nil {
				continue
			}
			if offset == 0 && m < origMinute {
				continue
			}
			candidate := date.Add(time.Duration(m) * time.Minute)
			if !candidate.After(now) {
				continue
			}
			return candidate, true, nil
		}
	}
	return time.Time{}, false, nil
}

func rescheduleSnapshot(date time.Time) []byte {
	return []byte(fmt.Sprintf(`{"appointmentDate":%q}`, date.UTC().Format(time.RFC3339)))
}
