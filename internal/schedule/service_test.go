package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
	"github.com/clinicore/clinic-scheduling/internal/appointment"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

type memScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]Schedule
	blocked   map[uuid.UUID]BlockedSlot
}

func newMemScheduleRepo() *memScheduleRepo {
	return &memScheduleRepo{
		schedules: make(map[uuid.UUID]Schedule),
		blocked:   make(map[uuid.UUID]BlockedSlot),
	}
}

func (r *memScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (r *memScheduleRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, onlyActive bool) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, s := range r.schedules {
		if s.DoctorID == doctorID && (!onlyActive || s.IsActive) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memScheduleRepo) ListActiveByDoctorDay(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, s := range r.schedules {
		if s.DoctorID == doctorID && s.DayOfWeek == dayOfWeek && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memScheduleRepo) Create(_ context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = *s
	return nil
}

func (r *memScheduleRepo) Update(_ context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; !ok {
		return ErrScheduleNotFound
	}
	r.schedules[s.ID] = *s
	return nil
}

func (r *memScheduleRepo) CreateBlockedSlot(_ context.Context, b *BlockedSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[b.ID] = *b
	return nil
}

func (r *memScheduleRepo) DeleteBlockedSlot(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocked[id]; !ok {
		return ErrBlockedSlotNotFound
	}
	delete(r.blocked, id)
	return nil
}

func (r *memScheduleRepo) ListBlockedBySchedule(_ context.Context, scheduleID uuid.UUID) ([]BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BlockedSlot
	for _, b := range r.blocked {
		if b.ScheduleID == scheduleID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memScheduleRepo) ListBlockedOn(_ context.Context, scheduleIDs []uuid.UUID, date time.Time) ([]BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BlockedSlot
	for _, b := range r.blocked {
		if !b.Date.Equal(date) {
			continue
		}
		for _, id := range scheduleIDs {
			if b.ScheduleID == id {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

// memApptRepo implements appointment.Repository from a plain map, enough to
// drive availability, slot validation and the rescheduler.
type memApptRepo struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]appointment.Appointment
	history []appointment.History
}

func newMemApptRepo() *memApptRepo {
	return &memApptRepo{appts: make(map[uuid.UUID]appointment.Appointment)}
}

func (r *memApptRepo) add(a appointment.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = a
}

func (r *memApptRepo) get(id uuid.UUID) appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appts[id]
}

func (r *memApptRepo) historyFor(id uuid.UUID, action appointment.HistoryAction) []appointment.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.History
	for _, h := range r.history {
		if h.AppointmentID == id && h.Action == action {
			out = append(out, h)
		}
	}
	return out
}

func (r *memApptRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memApptRepo) FindActiveAt(_ context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.AppointmentDate.Equal(at) && appointment.IsActive(a.Status) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memApptRepo) ListActiveByPatientOn(_ context.Context, patientID uuid.UUID, dayStart time.Time, excludeID *uuid.UUID) ([]appointment.Appointment, error) {
	return nil, nil
}

func (r *memApptRepo) CountActiveByPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	return 0, nil
}

func (r *memApptRepo) ListByDoctorOn(_ context.Context, doctorID uuid.UUID, dayStart time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dayEnd := dayStart.Add(24 * time.Hour)
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Status != appointment.StatusCancelled &&
			!a.AppointmentDate.Before(dayStart) && a.AppointmentDate.Before(dayEnd) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memApptRepo) ListByDoctorBetween(_ context.Context, doctorID uuid.UUID, statuses []appointment.Status, from, to time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.DoctorID != doctorID || a.AppointmentDate.Before(from) || !a.AppointmentDate.Before(to) {
			continue
		}
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *memApptRepo) ListStartingBetween(_ context.Context, from, to time.Time) ([]appointment.Appointment, error) {
	return nil, nil
}

func (r *memApptRepo) CreateWithHistory(_ context.Context, a *appointment.Appointment, h *appointment.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = *a
	r.history = append(r.history, *h)
	return nil
}

func (r *memApptRepo) UpdateWithHistory(_ context.Context, a *appointment.Appointment, h *appointment.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[a.ID]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	r.appts[a.ID] = *a
	r.history = append(r.history, *h)
	return nil
}

func (r *memApptRepo) AppendHistory(_ context.Context, h *appointment.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, *h)
	return nil
}

func (r *memApptRepo) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]appointment.History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.History
	for _, h := range r.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memApptRepo) Search(_ context.Context, f appointment.SearchFilter) ([]appointment.Appointment, int, error) {
	return nil, 0, nil
}

type noopNotifier struct {
	mu          sync.Mutex
	rescheduled int
}

func (n *noopNotifier) AppointmentCreated(appointment.Appointment)   {}
func (n *noopNotifier) AppointmentCancelled(appointment.Appointment) {}
func (n *noopNotifier) AppointmentRescheduled(appointment.Appointment, appointment.Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rescheduled++
}

type scheduleEnv struct {
	svc      *Service
	repo     *memScheduleRepo
	appts    *memApptRepo
	notifier *noopNotifier
	now      time.Time
}

func newScheduleEnv(t *testing.T) *scheduleEnv {
	t.Helper()
	env := &scheduleEnv{
		repo:     newMemScheduleRepo(),
		appts:    newMemApptRepo(),
		notifier: &noopNotifier{},
		now:      mustTime(t, "2026-09-01T08:00:00Z"),
	}
	env.svc = NewService(env.repo, env.appts, env.notifier, Options{}, zerolog.Nop())
	env.svc.now = func() time.Time { return env.now }
	env.svc.resched.now = env.svc.now
	return env
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperror.From(err)
	require.True(t, ok, "expected apperror, got %v", err)
	return appErr.Code
}

func TestCreateScheduleValidation(t *testing.T) {
	doctorID := uuid.New()

	tests := []struct {
		name     string
		input    CreateInput
		wantCode string
	}{
		{"bad day", CreateInput{DoctorID: doctorID, DayOfWeek: 7, StartTime: "09:00", EndTime: "17:00"}, "INVALID_DAY_OF_WEEK"},
		{"bad start", CreateInput{DoctorID: doctorID, DayOfWeek: 1, StartTime: "9:00", EndTime: "17:00"}, "INVALID_TIME_FORMAT"},
		{"bad end", CreateInput{DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17h00"}, "INVALID_TIME_FORMAT"},
		{"inverted range", CreateInput{DoctorID: doctorID, DayOfWeek: 1, StartTime: "17:00", EndTime: "09:00"}, "INVALID_TIME_RANGE"},
		{"negative slot", CreateInput{DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", SlotDuration: -5}, "INVALID_SLOT_DURATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newScheduleEnv(t)
			_, err := env.svc.Create(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errCode(t, err))
		})
	}
}

func TestCreateScheduleDefaultsSlotDuration(t *testing.T) {
	env := newScheduleEnv(t)
	sched, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: uuid.New(), DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, sched.SlotDuration)
	assert.True(t, sched.IsActive)
}

func TestCreateScheduleRejectsOverlap(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	first, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "13:00",
	})
	require.NoError(t, err)

	_, err = env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "12:00", EndTime: "17:00",
	})
	require.Error(t, err)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, "SCHEDULE_OVERLAP", appErr.Code)
	assert.Equal(t, first.ID, appErr.Extra["conflictingId"])

	// Adjacent window is fine.
	_, err = env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "13:00", EndTime: "17:00",
	})
	require.NoError(t, err)

	// Same times on another day are fine too.
	_, err = env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 2, StartTime: "12:00", EndTime: "17:00",
	})
	require.NoError(t, err)
}

func TestGetAvailability(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	// 2026-09-07 is a Monday.
	date := mustTime(t, "2026-09-07T00:00:00Z")
	sched, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "11:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	env.appts.add(appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T09:30:00Z"),
		Duration:        30,
		Status:          appointment.StatusScheduled,
	})

	_, err = env.svc.AddBlockedSlot(context.Background(), BlockedSlotInput{
		ScheduleID: sched.ID,
		Date:       date,
		StartTime:  "10:00",
		EndTime:    "10:30",
	})
	require.NoError(t, err)

	slots, err := env.svc.GetAvailability(context.Background(), doctorID, date)
	require.NoError(t, err)

	want := []Slot{
		{Time: "09:00", Available: true},
		{Time: "09:30", Available: false, Reason: SlotReasonAppointment},
		{Time: "10:00", Available: false, Reason: SlotReasonBlocked},
		{Time: "10:30", Available: true},
	}
	assert.Equal(t, want, slots)
}

func TestGetAvailabilityNoScheduleIsEmpty(t *testing.T) {
	env := newScheduleEnv(t)
	slots, err := env.svc.GetAvailability(context.Background(), uuid.New(), mustTime(t, "2026-09-07T00:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGetAvailabilityMergesWindowsSorted(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	_, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "14:00", EndTime: "15:00", SlotDuration: 30,
	})
	require.NoError(t, err)
	_, err = env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	slots, err := env.svc.GetAvailability(context.Background(), doctorID, mustTime(t, "2026-09-07T00:00:00Z"))
	require.NoError(t, err)

	var times []string
	for _, s := range slots {
		times = append(times, s.Time)
	}
	assert.Equal(t, []string{"09:00", "09:30", "14:00", "14:30"}, times)
}

func TestValidateSlot(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	sched, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", SlotDuration: 30,
	})
	require.NoError(t, err)

	_, err = env.svc.AddBlockedSlot(context.Background(), BlockedSlotInput{
		ScheduleID: sched.ID,
		Date:       mustTime(t, "2026-09-07T00:00:00Z"),
		StartTime:  "12:00",
		EndTime:    "13:00",
	})
	require.NoError(t, err)

	conflicting := appointment.Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		AppointmentDate: mustTime(t, "2026-09-07T10:00:00Z"),
		Duration:        60,
		Status:          appointment.StatusConfirmed,
	}
	env.appts.add(conflicting)

	ctx := context.Background()

	assert.NoError(t, env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T09:00:00Z"), 30, nil))

	// Tuesday has no window at all.
	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-08T09:00:00Z"), 30, nil)
	assert.Equal(t, "NO_SCHEDULE", errCode(t, err))

	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T17:00:00Z"), 30, nil)
	assert.Equal(t, "OUT_OF_SCHEDULE", errCode(t, err))

	// 16:45 + 30 spills past the window end.
	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T16:45:00Z"), 30, nil)
	assert.Equal(t, "OUT_OF_SCHEDULE", errCode(t, err))

	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T09:10:00Z"), 30, nil)
	assert.Equal(t, "GRID_MISALIGNED", errCode(t, err))

	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T12:30:00Z"), 30, nil)
	assert.Equal(t, "BLOCKED_SLOT", errCode(t, err))

	err = env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T10:30:00Z"), 30, nil)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, "OVERLAPPING_APPOINTMENT", appErr.Code)
	assert.Equal(t, conflicting.ID, appErr.Extra["conflictingId"])

	// Excluding the conflicting appointment itself clears the check.
	assert.NoError(t, env.svc.ValidateSlot(ctx, doctorID, mustTime(t, "2026-09-07T10:30:00Z"), 30, &conflicting.ID))
}

func TestDeleteScheduleDeactivates(t *testing.T) {
	env := newScheduleEnv(t)
	doctorID := uuid.New()

	sched, err := env.svc.Create(context.Background(), CreateInput{
		DoctorID: doctorID, DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(context.Background(), sched.ID))

	got, err := env.svc.Get(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := env.svc.ListByDoctor(context.Background(), doctorID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Idempotent on an already inactive window.
	require.NoError(t, env.svc.Delete(context.Background(), sched.ID))
}
