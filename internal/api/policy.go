package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
)

// Operation names every boundary action the policy table covers.
type Operation string

const (
	OpAppointmentCreate       Operation = "appointments.create"
	OpAppointmentRead         Operation = "appointments.read"
	OpAppointmentUpdate       Operation = "appointments.update"
	OpAppointmentChangeStatus Operation = "appointments.changeStatus"
	OpAppointmentCancel       Operation = "appointments.cancel"
	OpAppointmentAgenda       Operation = "appointments.agenda"

	OpScheduleRead       Operation = "schedules.read"
	OpScheduleWrite      Operation = "schedules.write"
	OpScheduleReschedule Operation = "schedules.reschedule"

	OpQueueJoin         Operation = "queue.join"
	OpQueueRead         Operation = "queue.read"
	OpQueueManage       Operation = "queue.manage"
	OpQueueCancelTicket Operation = "queue.cancelTicket"

	OpWorkflowCurrentPatient Operation = "workflow.currentPatient"
)

// policy is the single role table consulted at the boundary. The lifecycle
// engines repeat the finer-grained checks (e.g. a patient may never set
// COMPLETED) so a missing route guard cannot bypass them.
var policy = map[Operation][]string{
	OpAppointmentCreate:       {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpAppointmentRead:         {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpAppointmentUpdate:       {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpAppointmentChangeStatus: {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpAppointmentCancel:       {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpAppointmentAgenda:       {appointment.RoleDoctor, appointment.RoleAdmin},

	OpScheduleRead:       {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpScheduleWrite:      {appointment.RoleDoctor, appointment.RoleAdmin},
	OpScheduleReschedule: {appointment.RoleAdmin},

	OpQueueJoin:         {appointment.RolePatient, appointment.RoleAdmin},
	OpQueueRead:         {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},
	OpQueueManage:       {appointment.RoleDoctor, appointment.RoleAdmin},
	OpQueueCancelTicket: {appointment.RolePatient, appointment.RoleDoctor, appointment.RoleAdmin},

	OpWorkflowCurrentPatient: {appointment.RoleDoctor, appointment.RoleAdmin},
}

// Allowed consults the policy table.
func Allowed(op Operation, role string) bool {
	for _, allowed := range policy[op] {
		if allowed == role {
			return true
		}
	}
	return false
}

// RequireActor parses the gateway-injected identity headers, consults the
// policy table and stores the actor in the request context. JWT verification
// happens upstream; these headers are trusted inside the perimeter.
func RequireActor(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "MISSING_ACTOR", "X-Actor-ID header must be a valid UUID")
				return
			}
			role := r.Header.Get("X-Actor-Role")
			if role == "" {
				writeError(w, http.StatusUnauthorized, "MISSING_ACTOR", "X-Actor-Role header is required")
				return
			}
			if !Allowed(op, role) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "role may not perform this operation")
				return
			}

			actor := appointment.Actor{ID: id, Role: role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

// ActorFrom retrieves the authenticated actor placed by RequireActor.
func ActorFrom(ctx context.Context) appointment.Actor {
	if a, ok := ctx.Value(actorKey).(appointment.Actor); ok {
		return a
	}
	return appointment.Actor{}
}

// ownsDoctorResource reports whether the actor may act on the doctor-scoped
// resource: doctors only on their own, admins on any.
func ownsDoctorResource(actor appointment.Actor, doctorID uuid.UUID) bool {
	switch actor.Role {
	case appointment.RoleAdmin:
		return true
	case appointment.RoleDoctor:
		return actor.ID == doctorID
	default:
		return false
	}
}

// mayViewAppointment restricts patients to their own appointments.
func mayViewAppointment(actor appointment.Actor, a *appointment.Appointment) bool {
	if actor.Role == appointment.RolePatient {
		return a.PatientID == actor.ID
	}
	return true
}
