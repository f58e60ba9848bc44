package schedule

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
)

func TestComputeLostWindows(t *testing.T) {
	base := func() *Schedule {
		return &Schedule{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", IsActive: true}
	}

	tests := []struct {
		name    string
		mutate  func(s *Schedule)
		want    []LostWindow
	}{
		{
			name:   "front shrink",
			mutate: func(s *Schedule) { s.StartTime = "10:00" },
			want:   []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"}},
		},
		{
			name:   "back shrink",
			mutate: func(s *Schedule) { s.EndTime = "15:00" },
			want:   []LostWindow{{DayOfWeek: 1, StartTime: "15:00", EndTime: "17:00"}},
		},
		{
			name:   "both ends",
			mutate: func(s *Schedule) { s.StartTime = "10:00"; s.EndTime = "15:00" },
			want: []LostWindow{
				{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"},
				{DayOfWeek: 1, StartTime: "15:00", EndTime: "17:00"},
			},
		},
		{
			name:   "grow loses nothing",
			mutate: func(s *Schedule) { s.StartTime = "08:00"; s.EndTime = "18:00" },
			want:   nil,
		},
		{
			name:   "day change loses everything",
			mutate: func(s *Schedule) { s.DayOfWeek = 3 },
			want:   []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}},
		},
		{
			name:   "deactivation loses everything",
			mutate: func(s *Schedule) { s.IsActive = false },
			want:   []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}},
		},
		{
			name:   "disjoint replacement loses everything",
			mutate: func(s *Schedule) { s.StartTime = "18:00"; s.EndTime = "20:00" },
			want:   []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := base()
			updated := base()
			tt.mutate(updated)
			assert.Equal(t, tt.want, ComputeLostWindows(old, updated))
		})
	}
}

func TestRescheduleInWindowsMovesOrphanedAppointment(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	// Window already shrunk to 10:00-17:00; the 09:30 appointment is orphaned.
	_, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "10:00", EndTime: "17:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	orphan := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T09:30:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	}
	env.appts.add(orphan)

	untouched := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T11:00:00Z"),
		Duration:        30,
		Status:          appointment.StatusConfirmed,
	}
	env.appts.add(untouched)

	windows := []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"}}
	report, err := env.svc.Rescheduler().RescheduleInWindows(context.Background(), doctorID, windows, env.now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, 0, report.NotFoundSlot)

	moved := env.appts.get(orphan.ID)
	assert.Equal(t, appointment.StatusRescheduled, moved.Status)
	assert.True(t, moved.IsRescheduled)
	// First free slot at or after 09:30 in the new window is 10:00.
	assert.Equal(t, mustTime(t, "2026-09-07T10:00:00Z"), moved.AppointmentDate)

	hist := env.appts.historyFor(orphan.ID, appointment.ActionRescheduled)
	require.Len(t, hist, 1)
	assert.Equal(t, appointment.RoleSystem, hist[0].ChangedByRole)

	assert.Equal(t, untouched.AppointmentDate, env.appts.get(untouched.ID).AppointmentDate)
	assert.Equal(t, 1, env.notifier.rescheduled)
}

func TestRescheduleSkipsOccupiedSlots(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	// One-hour window with both slots; 10:00 is taken, so the orphan from
	// the lost morning must land on 10:30.
	_, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "10:00", EndTime: "11:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	env.appts.add(appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T10:00:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	})

	orphan := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T09:00:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	}
	env.appts.add(orphan)

	windows := []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"}}
	report, err := env.svc.Rescheduler().RescheduleInWindows(context.Background(), doctorID, windows, env.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Moved)

	assert.Equal(t, mustTime(t, "2026-09-07T10:30:00Z"), env.appts.get(orphan.ID).AppointmentDate)
}

func TestRescheduleLeavesDanglingWhenNoSlot(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	// Doctor keeps no schedule at all after the delete: nothing to move to.
	orphan := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T09:30:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	}
	env.appts.add(orphan)

	windows := []LostWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}}
	report, err := env.svc.Rescheduler().RescheduleInWindows(context.Background(), doctorID, windows, env.now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Moved)
	assert.Equal(t, 1, report.NotFoundSlot)

	// Left in place, not cancelled, with an attempt row for operators.
	after := env.appts.get(orphan.ID)
	assert.Equal(t, appointment.StatusScheduled, after.Status)
	assert.Equal(t, orphan.AppointmentDate, after.AppointmentDate)
	require.Len(t, env.appts.historyFor(orphan.ID, appointment.ActionRescheduleAttempt), 1)
}

func TestRescheduleOutOfScheduleSweep(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	_, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "10:00", EndTime: "12:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	fitting := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T10:30:00Z"),
		Duration:        30,
		Status:          appointment.StatusConfirmed,
	}
	env.appts.add(fitting)

	misfit := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T08:00:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	}
	env.appts.add(misfit)

	report, err := env.svc.Rescheduler().RescheduleOutOfSchedule(context.Background(), doctorID, env.now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, 1, report.Skipped)

	moved := env.appts.get(misfit.ID)
	assert.Equal(t, appointment.StatusRescheduled, moved.Status)
	assert.Equal(t, mustTime(t, "2026-09-07T10:00:00Z"), moved.AppointmentDate)

	assert.Equal(t, fitting.AppointmentDate, env.appts.get(fitting.ID).AppointmentDate)
	assert.Equal(t, appointment.StatusConfirmed, env.appts.get(fitting.ID).Status)
}
