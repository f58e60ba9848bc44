package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PATIENT_ID", "patientId must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}
		var specialtyID *uuid.UUID
		if req.SpecialtyID != nil {
			id, err := uuid.Parse(*req.SpecialtyID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_SPECIALTY_ID", "specialtyId must be a valid UUID")
				return
			}
			specialtyID = &id
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient && actor.ID != patientID {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "patients may only book for themselves")
			return
		}

		appt, err := svc.Create(r.Context(), appointment.CreateInput{
			PatientID:       patientID,
			DoctorID:        doctorID,
			SpecialtyID:     specialtyID,
			AppointmentDate: req.AppointmentDate,
			Duration:        req.Duration,
			Reason:          req.Reason,
			Notes:           req.Notes,
		}, actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !mayViewAppointment(ActorFrom(r.Context()), appt) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not your appointment")
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !mayViewAppointment(ActorFrom(r.Context()), appt) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not your appointment")
			return
		}

		history, err := svc.History(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := make([]HistoryResponse, 0, len(history))
		for _, h := range history {
			entry := HistoryResponse{
				ID:            h.ID,
				Action:        string(h.Action),
				ChangedFields: h.ChangedFields,
				ChangedBy:     h.ChangedBy,
				ChangedByRole: h.ChangedByRole,
				CreatedAt:     h.CreatedAt,
			}
			if h.PreviousStatus != nil {
				s := string(*h.PreviousStatus)
				entry.PreviousStatus = &s
			}
			if h.NewStatus != nil {
				s := string(*h.NewStatus)
				entry.NewStatus = &s
			}
			resp = append(resp, entry)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "id must be a valid UUID")
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient {
			current, err := svc.Get(r.Context(), id)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			if current.PatientID != actor.ID {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "not your appointment")
				return
			}
		}

		appt, err := svc.Update(r.Context(), id, appointment.UpdateInput{
			AppointmentDate: req.AppointmentDate,
			Duration:        req.Duration,
			Reason:          req.Reason,
			Notes:           req.Notes,
			Status:          req.Status,
		}, actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func changeAppointmentStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "id must be a valid UUID")
			return
		}

		var req ChangeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, req.Status, ActorFrom(r.Context()), req.CancellationReason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if r.Body != nil {
			// Body is optional on cancel.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient {
			current, err := svc.Get(r.Context(), id)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			if current.PatientID != actor.ID {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "not your appointment")
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), id, actor, req.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		in := appointment.ListInput{
			StatusLabel: q.Get("status"),
			PatientName: q.Get("patientName"),
			DateFrom:    q.Get("dateFrom"),
			DateTo:      q.Get("dateTo"),
			OrderBy:     q.Get("orderBy"),
			Order:       q.Get("order"),
		}
		in.Page, _ = strconv.Atoi(q.Get("page"))
		in.Limit, _ = strconv.Atoi(q.Get("limit"))

		for name, target := range map[string]**uuid.UUID{
			"doctorId":    &in.DoctorID,
			"specialtyId": &in.SpecialtyID,
			"patientId":   &in.PatientID,
		} {
			if raw := q.Get(name); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_FILTER", name+" must be a valid UUID")
					return
				}
				*target = &id
			}
		}

		// Patients only ever see their own appointments.
		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient {
			id := actor.ID
			in.PatientID = &id
			in.PatientName = ""
		}

		page, err := svc.List(r.Context(), in)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, toAppointmentResponse(&page.Items[i]))
		}
		writeJSON(w, http.StatusOK, PageResponse{
			Items: items,
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
			Pages: page.Pages,
		})
	}
}

func listAppointmentsByDateRangeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		in := appointment.ListInput{
			StatusLabel: q.Get("status"),
			DateFrom:    q.Get("dateFrom"),
			DateTo:      q.Get("dateTo"),
		}
		if in.DateFrom == "" || in.DateTo == "" {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", "dateFrom and dateTo are required")
			return
		}
		if raw := q.Get("doctorId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_FILTER", "doctorId must be a valid UUID")
				return
			}
			in.DoctorID = &id
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RoleDoctor {
			id := actor.ID
			in.DoctorID = &id
		}

		items, err := svc.ListByDateRange(r.Context(), in)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(items))
		for i := range items {
			resp = append(resp, toAppointmentResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
