package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

type memTicketRepo struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]QueueTicket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[uuid.UUID]QueueTicket)}
}

func (r *memTicketRepo) get(id uuid.UUID) QueueTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id]
}

func (r *memTicketRepo) GetByID(_ context.Context, id uuid.UUID) (*QueueTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &t, nil
}

func (r *memTicketRepo) FindOpenTicket(_ context.Context, doctorID, patientID uuid.UUID, day time.Time) (*QueueTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.DoctorID == doctorID && t.PatientID == patientID && t.QueueDate.Equal(day) && !IsTerminal(t.Status) {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memTicketRepo) MaxTicketNumber(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, t := range r.tickets {
		if t.DoctorID == doctorID && t.QueueDate.Equal(day) && t.TicketNumber > max {
			max = t.TicketNumber
		}
	}
	return max, nil
}

func (r *memTicketRepo) listSorted(filter func(QueueTicket) bool) []QueueTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []QueueTicket
	for _, t := range r.tickets {
		if filter(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketNumber < out[j].TicketNumber })
	return out
}

func (r *memTicketRepo) ListWaiting(_ context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error) {
	return r.listSorted(func(t QueueTicket) bool {
		return t.DoctorID == doctorID && t.QueueDate.Equal(day) && t.Status == TicketWaiting
	}), nil
}

func (r *memTicketRepo) ListOpen(_ context.Context, doctorID uuid.UUID, day time.Time) ([]QueueTicket, error) {
	return r.listSorted(func(t QueueTicket) bool {
		return t.DoctorID == doctorID && t.QueueDate.Equal(day) && !IsTerminal(t.Status)
	}), nil
}

func (r *memTicketRepo) ListForDay(_ context.Context, doctorID uuid.UUID, day time.Time, includeFinished bool) ([]QueueTicket, error) {
	return r.listSorted(func(t QueueTicket) bool {
		if t.DoctorID != doctorID || !t.QueueDate.Equal(day) {
			return false
		}
		return includeFinished || !IsTerminal(t.Status)
	}), nil
}

func (r *memTicketRepo) ListRecentCompleted(_ context.Context, doctorID uuid.UUID, limit int) ([]QueueTicket, error) {
	out := r.listSorted(func(t QueueTicket) bool {
		return t.DoctorID == doctorID && t.Status == TicketCompleted && t.StartedAt != nil && t.CompletedAt != nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTicketRepo) Create(_ context.Context, t *QueueTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.tickets {
		if other.DoctorID == t.DoctorID && other.QueueDate.Equal(t.QueueDate) && other.TicketNumber == t.TicketNumber {
			return ErrDuplicateTicketNumber
		}
	}
	r.tickets[t.ID] = *t
	return nil
}

func (r *memTicketRepo) Update(_ context.Context, t *QueueTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	r.tickets[t.ID] = *t
	return nil
}

// passLocker runs the callback inline; lock semantics are redis-side.
type passLocker struct{}

func (passLocker) WithQueueLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeGateway struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	statuses  map[uuid.UUID]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[uuid.UUID]string)}
}

func (g *fakeGateway) ConfirmForQueue(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmed = append(g.confirmed, id)
	g.statuses[id] = "CONFIRMED"
	return nil
}

func (g *fakeGateway) AppointmentStatus(_ context.Context, id uuid.UUID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[id], nil
}

type queueEnv struct {
	svc     *Service
	repo    *memTicketRepo
	gateway *fakeGateway
	now     time.Time
}

func newQueueEnv(t *testing.T) *queueEnv {
	t.Helper()
	env := &queueEnv{
		repo:    newMemTicketRepo(),
		gateway: newFakeGateway(),
		now:     mustTime(t, "2026-09-07T09:00:00Z"),
	}
	env.svc = NewService(env.repo, env.gateway, passLocker{}, zerolog.Nop())
	env.svc.now = func() time.Time { return env.now }
	return env
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperror.From(err)
	require.True(t, ok, "expected apperror, got %v", err)
	return appErr.Code
}

func (env *queueEnv) addCompleted(doctorID uuid.UUID, serviceMinutes int, completedAt time.Time) {
	started := completedAt.Add(-time.Duration(serviceMinutes) * time.Minute)
	t := QueueTicket{
		ID:           uuid.New(),
		DoctorID:     doctorID,
		PatientID:    uuid.New(),
		TicketNumber: -1, // outside today's numbering
		QueueDate:    completedAt.Truncate(24 * time.Hour),
		Status:       TicketCompleted,
		StartedAt:    &started,
		CompletedAt:  &completedAt,
		CreatedAt:    started,
		UpdatedAt:    completedAt,
	}
	env.repo.tickets[t.ID] = t
}

func TestJoinAssignsSequentialTickets(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	var results []*JoinResult
	for i := 0; i < 3; i++ {
		res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
		require.NoError(t, err)
		require.False(t, res.Duplicate)
		results = append(results, res)
	}

	for i, res := range results {
		assert.Equal(t, i+1, res.Ticket.TicketNumber)
		assert.Equal(t, i+1, res.Position)
		// Default 15-minute average with no completion history.
		assert.Equal(t, i*15, res.EstimatedWaitTime)
		assert.Equal(t, TicketWaiting, res.Ticket.Status)
	}
}

func TestJoinDuplicateIsIdempotent(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()
	patientID := uuid.New()
	appointmentID := uuid.New()

	first, err := env.svc.Join(context.Background(), doctorID, patientID, &appointmentID)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := env.svc.Join(context.Background(), doctorID, patientID, &appointmentID)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Equal(t, first.Position, second.Position)

	waiting, err := env.repo.ListWaiting(context.Background(), doctorID, first.Ticket.QueueDate)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	// The linked appointment is confirmed on both joins.
	assert.Equal(t, []uuid.UUID{appointmentID, appointmentID}, env.gateway.confirmed)
}

func TestAverageServiceMinutes(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	avg, err := env.svc.AverageServiceMinutes(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, 15, avg, "default with no history")

	env.addCompleted(doctorID, 20, env.now.Add(-2*time.Hour))
	env.addCompleted(doctorID, 25, env.now.Add(-1*time.Hour))
	avg, err = env.svc.AverageServiceMinutes(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, 23, avg, "mean of 20 and 25 rounds to 23")

	env2 := newQueueEnv(t)
	env2.addCompleted(doctorID, 2, env2.now.Add(-time.Hour))
	avg, err = env2.svc.AverageServiceMinutes(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, 5, avg, "floored at 5")
}

func TestCallNextFIFOAndRecompute(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
		require.NoError(t, err)
		ids = append(ids, res.Ticket.ID)
	}

	called, err := env.svc.CallNext(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], called.ID)
	assert.Equal(t, TicketCalled, called.Status)
	require.NotNil(t, called.CalledAt)

	// The called ticket still heads the line; remaining start at 2.
	second := env.repo.get(ids[1])
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, 15, second.EstimatedWaitTime)

	third := env.repo.get(ids[2])
	assert.Equal(t, 3, third.Position)
	assert.Equal(t, 30, third.EstimatedWaitTime)
}

func TestCallNextEmptyQueue(t *testing.T) {
	env := newQueueEnv(t)
	_, err := env.svc.CallNext(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, "EMPTY_QUEUE", errCode(t, err))
}

func TestCompleteTicketRecomputesFromOne(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
		require.NoError(t, err)
		ids = append(ids, res.Ticket.ID)
	}

	called, err := env.svc.CallNext(context.Background(), doctorID)
	require.NoError(t, err)
	_, err = env.svc.StartTicket(context.Background(), called.ID)
	require.NoError(t, err)

	env.now = env.now.Add(20 * time.Minute)
	done, err := env.svc.CompleteTicket(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Equal(t, TicketCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Head of the line is gone, remaining restart at position 1.
	second := env.repo.get(ids[1])
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 0, second.EstimatedWaitTime)

	third := env.repo.get(ids[2])
	assert.Equal(t, 2, third.Position)
	// One completion of 20 minutes now drives the average.
	assert.Equal(t, 20, third.EstimatedWaitTime)
}

func TestCompleteBackfillsStartedAt(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)

	called, err := env.svc.CallNext(context.Background(), doctorID)
	require.NoError(t, err)

	env.now = env.now.Add(10 * time.Minute)
	done, err := env.svc.CompleteTicket(context.Background(), res.Ticket.ID)
	require.NoError(t, err)

	require.NotNil(t, done.StartedAt)
	assert.Equal(t, *called.CalledAt, *done.StartedAt)
}

func TestTerminalTicketsRejectFurtherTransitions(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)

	cancelled, err := env.svc.CancelTicket(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, TicketCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = env.svc.StartTicket(context.Background(), res.Ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "TICKET_ALREADY_CLOSED", errCode(t, err))

	_, err = env.svc.CompleteTicket(context.Background(), res.Ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "TICKET_ALREADY_CLOSED", errCode(t, err))
}

func TestMarkNoShow(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	res, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)

	gone, err := env.svc.MarkNoShow(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, TicketNoShow, gone.Status)
	require.NotNil(t, gone.NoShowAt)
}

func TestGetPositionRefreshesAfterDropouts(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()
	appointmentID := uuid.New()
	env.gateway.statuses[appointmentID] = "CONFIRMED"

	first, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)
	second, err := env.svc.Join(context.Background(), doctorID, uuid.New(), &appointmentID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)

	// Ticket one leaves; positions refresh lazily on the next read.
	_, err = env.svc.CancelTicket(context.Background(), first.Ticket.ID)
	require.NoError(t, err)

	info, err := env.svc.GetPosition(context.Background(), second.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Position)
	assert.Equal(t, 0, info.EstimatedWaitTime)
	assert.Equal(t, "CONFIRMED", info.AppointmentStatus)

	assert.Equal(t, 1, env.repo.get(second.Ticket.ID).Position)
}

func TestGetPositionUnknownTicket(t *testing.T) {
	env := newQueueEnv(t)
	_, err := env.svc.GetPosition(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, "TICKET_NOT_FOUND", errCode(t, err))
}

func TestGetDoctorCurrentQueue(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	first, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)
	_, err = env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)

	env.now = env.now.Add(12 * time.Minute)
	called, err := env.svc.CallNext(context.Background(), doctorID)
	require.NoError(t, err)
	require.Equal(t, first.Ticket.ID, called.ID)

	env.now = env.now.Add(8 * time.Minute)
	views, err := env.svc.GetDoctorCurrentQueue(context.Background(), doctorID, env.now, false)
	require.NoError(t, err)
	require.Len(t, views, 2)

	// CALLED tickets stop the clock at calledAt; WAITING keeps counting.
	assert.Equal(t, TicketCalled, views[0].Status)
	assert.Equal(t, 12, views[0].WaitingMinutes)
	assert.Equal(t, TicketWaiting, views[1].Status)
	assert.Equal(t, 20, views[1].WaitingMinutes)

	// Finish the first ticket and check the includeFinished switch.
	_, err = env.svc.CompleteTicket(context.Background(), called.ID)
	require.NoError(t, err)

	views, err = env.svc.GetDoctorCurrentQueue(context.Background(), doctorID, env.now, false)
	require.NoError(t, err)
	assert.Len(t, views, 1)

	views, err = env.svc.GetDoctorCurrentQueue(context.Background(), doctorID, env.now, true)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestCurrentTicketPrefersInProgress(t *testing.T) {
	env := newQueueEnv(t)
	doctorID := uuid.New()

	none, err := env.svc.CurrentTicket(context.Background(), doctorID, env.now)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)
	second, err := env.svc.Join(context.Background(), doctorID, uuid.New(), nil)
	require.NoError(t, err)

	_, err = env.svc.CallTicket(context.Background(), second.Ticket.ID)
	require.NoError(t, err)

	current, err := env.svc.CurrentTicket(context.Background(), doctorID, env.now)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.Ticket.ID, current.ID)

	_, err = env.svc.StartTicket(context.Background(), first.Ticket.ID)
	require.NoError(t, err)

	current, err = env.svc.CurrentTicket(context.Background(), doctorID, env.now)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, first.Ticket.ID, current.ID)
}
