package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/schedule"
)

func createScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), doctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only manage their own schedules")
			return
		}

		sched, err := svc.Create(r.Context(), schedule.CreateInput{
			DoctorID:     doctorID,
			DayOfWeek:    req.DayOfWeek,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			SlotDuration: req.SlotDuration,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toScheduleResponse(sched))
	}
}

func listDoctorSchedulesHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}

		onlyActive := r.URL.Query().Get("includeInactive") != "true"
		schedules, err := svc.ListByDoctor(r.Context(), doctorID, onlyActive)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := make([]ScheduleResponse, 0, len(schedules))
		for i := range schedules {
			resp = append(resp, toScheduleResponse(&schedules[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE_ID", "id must be a valid UUID")
			return
		}

		var req UpdateScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}

		current, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), current.DoctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only manage their own schedules")
			return
		}

		sched, err := svc.Update(r.Context(), id, schedule.UpdateInput{
			DayOfWeek:    req.DayOfWeek,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			SlotDuration: req.SlotDuration,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func deleteScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE_ID", "id must be a valid UUID")
			return
		}

		current, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), current.DoctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only manage their own schedules")
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getAvailabilityHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}

		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.GetAvailability(r.Context(), doctorID, date)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func addBlockedSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE_ID", "id must be a valid UUID")
			return
		}

		var req BlockedSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}

		current, err := svc.Get(r.Context(), scheduleID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !ownsDoctorResource(ActorFrom(r.Context()), current.DoctorID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "doctors may only manage their own schedules")
			return
		}

		blocked, err := svc.AddBlockedSlot(r.Context(), schedule.BlockedSlotInput{
			ScheduleID: scheduleID,
			Date:       date,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			Reason:     req.Reason,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockedSlotResponse(blocked))
	}
}

func listBlockedSlotsHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE_ID", "id must be a valid UUID")
			return
		}

		blocked, err := svc.ListBlockedSlots(r.Context(), scheduleID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := make([]BlockedSlotResponse, 0, len(blocked))
		for i := range blocked {
			resp = append(resp, toBlockedSlotResponse(&blocked[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func removeBlockedSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "blockedId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BLOCKED_SLOT_ID", "blockedId must be a valid UUID")
			return
		}

		if err := svc.RemoveBlockedSlot(r.Context(), id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func runReschedulerHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctorId must be a valid UUID")
			return
		}

		report, err := svc.Rescheduler().RescheduleOutOfSchedule(r.Context(), doctorID, time.Now().UTC())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
