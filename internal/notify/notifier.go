// Package notify dispatches appointment emails through a background worker.
// Dispatch never blocks or fails the triggering operation: tasks go onto a
// buffered channel and failures end up in the log, not in the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/directory"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ContactResolver is the slice of the directory used for recipients.
type ContactResolver interface {
	PatientContactByPatientID(ctx context.Context, patientID uuid.UUID) (*directory.PatientContact, error)
	ContactByUserID(ctx context.Context, userID uuid.UUID) (*directory.Contact, error)
}

type kind string

const (
	kindCreated     kind = "created"
	kindCancelled   kind = "cancelled"
	kindRescheduled kind = "rescheduled"
	kindReminder    kind = "reminder"
)

type task struct {
	kind     kind
	appt     appointment.Appointment
	previous appointment.Appointment // rescheduled only
	lead     time.Duration           // reminder only
}

// Dispatcher queues notification tasks for the worker goroutine. It
// satisfies the appointment engine's Notifier.
type Dispatcher struct {
	dir    ContactResolver
	sender Sender
	tasks  chan task
	logger zerolog.Logger
}

func NewDispatcher(dir ContactResolver, sender Sender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:    dir,
		sender: sender,
		tasks:  make(chan task, 256),
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Run consumes tasks until ctx is cancelled. Start it once, in its own
// goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.deliver(ctx, t)
		}
	}
}

func (d *Dispatcher) enqueue(t task) {
	select {
	case d.tasks <- t:
	default:
		d.logger.Warn().
			Str("kind", string(t.kind)).
			Str("appointmentId", t.appt.ID.String()).
			Msg("notification queue full, dropping task")
	}
}

func (d *Dispatcher) AppointmentCreated(a appointment.Appointment) {
	d.enqueue(task{kind: kindCreated, appt: a})
}

func (d *Dispatcher) AppointmentCancelled(a appointment.Appointment) {
	d.enqueue(task{kind: kindCancelled, appt: a})
}

func (d *Dispatcher) AppointmentRescheduled(previous, updated appointment.Appointment) {
	d.enqueue(task{kind: kindRescheduled, appt: updated, previous: previous})
}

func (d *Dispatcher) AppointmentReminder(a appointment.Appointment, lead time.Duration) {
	d.enqueue(task{kind: kindReminder, appt: a, lead: lead})
}

func (d *Dispatcher) deliver(ctx context.Context, t task) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	contact, err := d.dir.PatientContactByPatientID(ctx, t.appt.PatientID)
	if err != nil || contact == nil || contact.Email == "" {
		d.logger.Warn().
			Str("kind", string(t.kind)).
			Str("appointmentId", t.appt.ID.String()).
			Str("patientId", t.appt.PatientID.String()).
			Msg("no resolvable recipient, skipping notification")
		return
	}

	subject, body := render(t, contact.FullName)
	if err := d.sender.Send(ctx, contact.Email, subject, body); err != nil {
		d.logger.Error().Err(err).
			Str("kind", string(t.kind)).
			Str("appointmentId", t.appt.ID.String()).
			Msg("notification send failed")
		return
	}
	d.logger.Info().
		Str("kind", string(t.kind)).
		Str("appointmentId", t.appt.ID.String()).
		Msg("notification sent")

	// Reschedules also go to the doctor, whose agenda just changed.
	if t.kind == kindRescheduled {
		d.notifyDoctor(ctx, t)
	}
}

func (d *Dispatcher) notifyDoctor(ctx context.Context, t task) {
	doctor, err := d.dir.ContactByUserID(ctx, t.appt.DoctorID)
	if err != nil || doctor == nil || doctor.Email == "" {
		d.logger.Warn().
			Str("appointmentId", t.appt.ID.String()).
			Str("doctorId", t.appt.DoctorID.String()).
			Msg("no resolvable doctor contact, skipping copy")
		return
	}

	prev := t.previous.AppointmentDate.UTC().Format("2006-01-02 15:04 MST")
	when := t.appt.AppointmentDate.UTC().Format("2006-01-02 15:04 MST")
	body := fmt.Sprintf("Hello %s,\n\nAn appointment on your agenda was moved from %s to %s.\n",
		doctor.FullName, prev, when)

	if err := d.sender.Send(ctx, doctor.Email, "Appointment rescheduled", body); err != nil {
		d.logger.Error().Err(err).
			Str("appointmentId", t.appt.ID.String()).
			Msg("doctor notification send failed")
	}
}

func render(t task, name string) (subject, body string) {
	when := t.appt.AppointmentDate.UTC().Format("2006-01-02 15:04 MST")
	switch t.kind {
	case kindCreated:
		return "Appointment scheduled",
			fmt.Sprintf("Hello %s,\n\nYour appointment has been scheduled for %s.\n", name, when)
	case kindCancelled:
		reason := ""
		if t.appt.CancellationReason != nil {
			reason = fmt.Sprintf("\nReason: %s\n", *t.appt.CancellationReason)
		}
		return "Appointment cancelled",
			fmt.Sprintf("Hello %s,\n\nYour appointment on %s has been cancelled.%s", name, when, reason)
	case kindRescheduled:
		prev := t.previous.AppointmentDate.UTC().Format("2006-01-02 15:04 MST")
		return "Appointment rescheduled",
			fmt.Sprintf("Hello %s,\n\nYour appointment on %s has been moved to %s.\n", name, prev, when)
	case kindReminder:
		return "Appointment reminder",
			fmt.Sprintf("Hello %s,\n\nThis is a reminder of your appointment on %s (in about %.0f hours).\n",
				name, when, t.lead.Hours())
	}
	return "", ""
}
