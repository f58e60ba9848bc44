package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/queue"
)

func joinQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}
		var appointmentID *uuid.UUID
		if req.AppointmentID != nil {
			id, err := uuid.Parse(*req.AppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "appointmentId must be a valid UUID")
				return
			}
			appointmentID = &id
		}

		actor := ActorFrom(r.Context())
		res, err := svc.Join(r.Context(), doctorID, actor.ID, appointmentID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, JoinQueueResponse{
			Ticket:            toTicketResponse(res.Ticket),
			Duplicate:         res.Duplicate,
			Position:          res.Position,
			EstimatedWaitTime: res.EstimatedWaitTime,
		})
	}
}

func doctorQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RoleDoctor && actor.ID != doctorID {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only view their own queue")
			return
		}

		day := time.Now().UTC()
		if raw := r.URL.Query().Get("date"); raw != "" {
			day, err = time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
				return
			}
		}
		includeFinished := r.URL.Query().Get("includeFinished") == "true"

		views, err := svc.GetDoctorCurrentQueue(r.Context(), doctorID, day, includeFinished)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := make([]QueueEntryResponse, 0, len(views))
		for i := range views {
			resp = append(resp, QueueEntryResponse{
				TicketResponse: toTicketResponse(&views[i].QueueTicket),
				WaitingMinutes: views[i].WaitingMinutes,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func callNextHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), doctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only manage their own queue")
			return
		}

		ticket, err := svc.CallNext(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(ticket))
	}
}

func ticketTransitionHandler(apply func(ctx context.Context, id uuid.UUID) (*queue.QueueTicket, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "ticketId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TICKET_ID", "ticketId must be a valid UUID")
			return
		}

		ticket, err := apply(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(ticket))
	}
}

func callTicketHandler(svc *queue.Service) http.HandlerFunc {
	return ticketTransitionHandler(svc.CallTicket)
}

func startTicketHandler(svc *queue.Service) http.HandlerFunc {
	return ticketTransitionHandler(svc.StartTicket)
}

func completeTicketHandler(svc *queue.Service) http.HandlerFunc {
	return ticketTransitionHandler(svc.CompleteTicket)
}

func markNoShowHandler(svc *queue.Service) http.HandlerFunc {
	return ticketTransitionHandler(svc.MarkNoShow)
}

func cancelTicketHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "ticketId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TICKET_ID", "ticketId must be a valid UUID")
			return
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient {
			current, err := svc.GetPosition(r.Context(), id)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			if current.Ticket.PatientID != actor.ID {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "not your ticket")
				return
			}
		}

		ticket, err := svc.CancelTicket(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(ticket))
	}
}

func ticketPositionHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "ticketId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TICKET_ID", "ticketId must be a valid UUID")
			return
		}

		info, err := svc.GetPosition(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		actor := ActorFrom(r.Context())
		if actor.Role == appointment.RolePatient && info.Ticket.PatientID != actor.ID {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not your ticket")
			return
		}

		writeJSON(w, http.StatusOK, PositionResponse{
			Ticket:            toTicketResponse(info.Ticket),
			Position:          info.Position,
			EstimatedWaitTime: info.EstimatedWaitTime,
			AppointmentStatus: info.AppointmentStatus,
		})
	}
}
