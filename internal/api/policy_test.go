package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		role string
		want bool
	}{
		{"patient books", OpAppointmentCreate, appointment.RolePatient, true},
		{"patient reads schedules", OpScheduleRead, appointment.RolePatient, true},
		{"patient cannot write schedules", OpScheduleWrite, appointment.RolePatient, false},
		{"patient cannot see agenda", OpAppointmentAgenda, appointment.RolePatient, false},
		{"doctor writes schedules", OpScheduleWrite, appointment.RoleDoctor, true},
		{"doctor cannot trigger reschedule", OpScheduleReschedule, appointment.RoleDoctor, false},
		{"admin triggers reschedule", OpScheduleReschedule, appointment.RoleAdmin, true},
		{"patient joins queue", OpQueueJoin, appointment.RolePatient, true},
		{"doctor cannot join queue", OpQueueJoin, appointment.RoleDoctor, false},
		{"doctor manages queue", OpQueueManage, appointment.RoleDoctor, true},
		{"patient cannot manage queue", OpQueueManage, appointment.RolePatient, false},
		{"doctor sees current patient", OpWorkflowCurrentPatient, appointment.RoleDoctor, true},
		{"unknown role", OpAppointmentRead, "RECEPCIONISTA", false},
		{"unknown operation", Operation("nope"), appointment.RoleAdmin, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Allowed(tc.op, tc.role))
		})
	}
}

func TestRequireActor(t *testing.T) {
	var seen appointment.Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireActor(OpScheduleWrite)(inner)

	doctorID := uuid.New()

	t.Run("allowed role passes with actor in context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
		req.Header.Set("X-Actor-ID", doctorID.String())
		req.Header.Set("X-Actor-Role", appointment.RoleDoctor)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, doctorID, seen.ID)
		assert.Equal(t, appointment.RoleDoctor, seen.Role)
	})

	t.Run("disallowed role gets 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
		req.Header.Set("X-Actor-ID", uuid.NewString())
		req.Header.Set("X-Actor-Role", appointment.RolePatient)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "FORBIDDEN", body.Error)
	})

	t.Run("missing identity gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing role gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
		req.Header.Set("X-Actor-ID", uuid.NewString())
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestOwnsDoctorResource(t *testing.T) {
	doctorID := uuid.New()

	assert.True(t, ownsDoctorResource(appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin}, doctorID))
	assert.True(t, ownsDoctorResource(appointment.Actor{ID: doctorID, Role: appointment.RoleDoctor}, doctorID))
	assert.False(t, ownsDoctorResource(appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor}, doctorID))
	assert.False(t, ownsDoctorResource(appointment.Actor{ID: doctorID, Role: appointment.RolePatient}, doctorID))
}

func TestMayViewAppointment(t *testing.T) {
	patientID := uuid.New()
	appt := &appointment.Appointment{PatientID: patientID}

	assert.True(t, mayViewAppointment(appointment.Actor{ID: patientID, Role: appointment.RolePatient}, appt))
	assert.False(t, mayViewAppointment(appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}, appt))
	assert.True(t, mayViewAppointment(appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor}, appt))
}
