package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/directory"
)

type stubResolver struct {
	contacts map[uuid.UUID]*directory.PatientContact
	users    map[uuid.UUID]*directory.Contact
}

func (r *stubResolver) PatientContactByPatientID(_ context.Context, patientID uuid.UUID) (*directory.PatientContact, error) {
	return r.contacts[patientID], nil
}

func (r *stubResolver) ContactByUserID(_ context.Context, userID uuid.UUID) (*directory.Contact, error) {
	return r.users[userID], nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string // "to|subject"
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to+"|"+subject)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherDeliversCreated(t *testing.T) {
	patientID := uuid.New()
	resolver := &stubResolver{contacts: map[uuid.UUID]*directory.PatientContact{
		patientID: {
			Contact:   directory.Contact{Email: "jane@example.com", FullName: "Jane"},
			Status:    directory.PatientStatusActive,
			PatientID: patientID,
		},
	}}
	sender := &recordingSender{}
	d := NewDispatcher(resolver, sender, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.AppointmentCreated(appointment.Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		AppointmentDate: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})

	waitFor(t, func() bool { return sender.count() == 1 })
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "jane@example.com|Appointment scheduled", sender.sent[0])
}

func TestDispatcherSkipsUnresolvableRecipient(t *testing.T) {
	resolver := &stubResolver{contacts: map[uuid.UUID]*directory.PatientContact{}}
	sender := &recordingSender{}
	d := NewDispatcher(resolver, sender, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.AppointmentCancelled(appointment.Appointment{ID: uuid.New(), PatientID: uuid.New()})

	// Give the worker a moment; nothing must be sent and nothing must panic.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sender.count())
}

func TestDispatcherRescheduledCopiesDoctor(t *testing.T) {
	patientID := uuid.New()
	doctorID := uuid.New()
	resolver := &stubResolver{
		contacts: map[uuid.UUID]*directory.PatientContact{
			patientID: {
				Contact:   directory.Contact{Email: "jane@example.com", FullName: "Jane"},
				Status:    directory.PatientStatusActive,
				PatientID: patientID,
			},
		},
		users: map[uuid.UUID]*directory.Contact{
			doctorID: {Email: "dr.lopez@example.com", FullName: "Dr. Lopez"},
		},
	}
	sender := &recordingSender{}
	d := NewDispatcher(resolver, sender, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	previous := appointment.Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		AppointmentDate: time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC),
	}
	updated := previous
	updated.AppointmentDate = time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	d.AppointmentRescheduled(previous, updated)

	waitFor(t, func() bool { return sender.count() == 2 })
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "jane@example.com|Appointment rescheduled", sender.sent[0])
	assert.Equal(t, "dr.lopez@example.com|Appointment rescheduled", sender.sent[1])
}

func TestRenderRescheduled(t *testing.T) {
	prev := appointment.Appointment{AppointmentDate: time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC)}
	next := appointment.Appointment{AppointmentDate: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)}

	subject, body := render(task{kind: kindRescheduled, appt: next, previous: prev}, "Jane")
	assert.Equal(t, "Appointment rescheduled", subject)
	assert.Contains(t, body, "2026-09-07 09:30")
	assert.Contains(t, body, "2026-09-07 10:00")
}
