package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/queue"
	"github.com/clinicore/clinic-scheduling/internal/schedule"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Schedules    *schedule.Service
	Queue        *queue.Service
	Directory    ContactDirectory
	Records      RecordSource
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay unauthenticated.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.With(RequireActor(OpAppointmentCreate)).Post("/", createAppointmentHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentRead)).Get("/", listAppointmentsHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentAgenda)).Get("/range", listAppointmentsByDateRangeHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentRead)).Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentRead)).Get("/{id}/history", appointmentHistoryHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentUpdate)).Patch("/{id}", updateAppointmentHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentChangeStatus)).Post("/{id}/status", changeAppointmentStatusHandler(cfg.Appointments))
		r.With(RequireActor(OpAppointmentCancel)).Delete("/{id}", cancelAppointmentHandler(cfg.Appointments))
	})

	r.Route("/schedules", func(r chi.Router) {
		r.With(RequireActor(OpScheduleWrite)).Post("/", createScheduleHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleRead)).Get("/doctor/{doctorId}", listDoctorSchedulesHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleRead)).Get("/doctor/{doctorId}/availability", getAvailabilityHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleReschedule)).Post("/doctor/{doctorId}/reschedule", runReschedulerHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleWrite)).Patch("/{id}", updateScheduleHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleWrite)).Delete("/{id}", deleteScheduleHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleWrite)).Post("/{id}/blocked-slots", addBlockedSlotHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleRead)).Get("/{id}/blocked-slots", listBlockedSlotsHandler(cfg.Schedules))
		r.With(RequireActor(OpScheduleWrite)).Delete("/blocked-slots/{blockedId}", removeBlockedSlotHandler(cfg.Schedules))
	})

	r.Route("/queue", func(r chi.Router) {
		r.With(RequireActor(OpQueueJoin)).Post("/join", joinQueueHandler(cfg.Queue))
		r.With(RequireActor(OpQueueRead)).Get("/doctor/{doctorId}", doctorQueueHandler(cfg.Queue))
		r.With(RequireActor(OpQueueManage)).Post("/doctor/{doctorId}/call-next", callNextHandler(cfg.Queue))
		r.With(RequireActor(OpQueueManage)).Post("/tickets/{ticketId}/call", callTicketHandler(cfg.Queue))
		r.With(RequireActor(OpQueueManage)).Post("/tickets/{ticketId}/start", startTicketHandler(cfg.Queue))
		r.With(RequireActor(OpQueueManage)).Post("/tickets/{ticketId}/complete", completeTicketHandler(cfg.Queue))
		r.With(RequireActor(OpQueueManage)).Post("/tickets/{ticketId}/no-show", markNoShowHandler(cfg.Queue))
		r.With(RequireActor(OpQueueCancelTicket)).Post("/tickets/{ticketId}/cancel", cancelTicketHandler(cfg.Queue))
		r.With(RequireActor(OpQueueRead)).Get("/tickets/{ticketId}/position", ticketPositionHandler(cfg.Queue))
	})

	r.With(RequireActor(OpWorkflowCurrentPatient)).
		Get("/workflow/doctor/{doctorId}/current-patient", currentPatientHandler(workflowDeps{
			queue:        cfg.Queue,
			appointments: cfg.Appointments,
			directory:    cfg.Directory,
			records:      cfg.Records,
			logger:       cfg.Logger,
		}))

	return r
}
