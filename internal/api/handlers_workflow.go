package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/directory"
	"github.com/clinicore/clinic-scheduling/internal/medrecord"
	"github.com/clinicore/clinic-scheduling/internal/queue"
)

// ContactDirectory is the slice of the directory client the workflow surface
// needs.
type ContactDirectory interface {
	PatientContactByPatientID(ctx context.Context, patientID uuid.UUID) (*directory.PatientContact, error)
	SpecialtyByID(ctx context.Context, specialtyID uuid.UUID) (*directory.Specialty, error)
}

// RecordSource looks up the medical record attached to an appointment.
type RecordSource interface {
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*medrecord.Record, error)
}

// CurrentPatientResponse bundles everything a doctor needs on screen when a
// patient walks in: the ticket, who the patient is, the linked appointment
// and any medical record already opened for it. Contact and record come from
// sibling services and stay null when those lookups fail.
type CurrentPatientResponse struct {
	Ticket        TicketResponse       `json:"ticket"`
	Patient       *PatientInfo         `json:"patient,omitempty"`
	Appointment   *AppointmentResponse `json:"appointment,omitempty"`
	Specialty     *directory.Specialty `json:"specialty,omitempty"`
	MedicalRecord json.RawMessage      `json:"medicalRecord,omitempty"`
}

type PatientInfo struct {
	PatientID uuid.UUID `json:"patientId"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
}

type workflowDeps struct {
	queue        *queue.Service
	appointments *appointment.Service
	directory    ContactDirectory
	records      RecordSource
	logger       zerolog.Logger
}

func currentPatientHandler(deps workflowDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), doctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only view their own queue")
			return
		}

		ticket, err := deps.queue.CurrentTicket(r.Context(), doctorID, time.Now().UTC())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if ticket == nil {
			writeError(w, http.StatusNotFound, "NO_CURRENT_PATIENT", "no patient is called or in consultation")
			return
		}

		resp := CurrentPatientResponse{Ticket: toTicketResponse(ticket)}

		if contact, err := deps.directory.PatientContactByPatientID(r.Context(), ticket.PatientID); err == nil && contact != nil {
			resp.Patient = &PatientInfo{
				PatientID: contact.PatientID,
				FullName:  contact.FullName,
				Email:     contact.Email,
			}
		}

		if ticket.AppointmentID != nil {
			if appt, err := deps.appointments.Get(r.Context(), *ticket.AppointmentID); err == nil {
				ar := toAppointmentResponse(appt)
				resp.Appointment = &ar
				if appt.SpecialtyID != nil {
					if spec, err := deps.directory.SpecialtyByID(r.Context(), *appt.SpecialtyID); err == nil && spec != nil {
						resp.Specialty = spec
					}
				}
			} else {
				deps.logger.Warn().Err(err).
					Str("appointment_id", ticket.AppointmentID.String()).
					Msg("hydrate current patient appointment")
			}

			if record, err := deps.records.GetByAppointmentID(r.Context(), *ticket.AppointmentID); err == nil && record != nil {
				if raw, err := json.Marshal(record); err == nil {
					resp.MedicalRecord = raw
				}
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
