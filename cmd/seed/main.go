package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/timegrid"
)

// Seeds the scheduling tables with fake doctors' weekly grids and a spread of
// upcoming appointments. Doctor and patient identities are owned by the
// directory service, so only their UUIDs appear here.

const (
	doctorCount       = 20
	patientCount      = 400
	appointmentWeeks  = 2
	appointmentChance = 35 // percent of grid slots that get booked
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors := make([]uuid.UUID, doctorCount)
	for i := range doctors {
		doctors[i] = uuid.New()
	}
	patients := make([]uuid.UUID, patientCount)
	for i := range patients {
		patients[i] = uuid.New()
	}

	schedules, err := seedSchedules(context.Background(), pool, doctors)
	if err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, schedules, patients); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

type seededSchedule struct {
	DoctorID     uuid.UUID
	DayOfWeek    int
	StartTime    string
	EndTime      string
	SlotDuration int
}

// seedSchedules gives every doctor a morning block on each working weekday and
// an afternoon block on some of them.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID) ([]seededSchedule, error) {
	log.Printf("seeding schedules for %d doctors", len(doctors))

	blocks := []struct {
		start, end string
	}{
		{"08:00", "12:00"},
		{"14:00", "18:00"},
	}
	durations := []int{15, 20, 30}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var out []seededSchedule
	for _, doctorID := range doctors {
		duration := durations[gofakeit.Number(0, len(durations)-1)]
		for day := 1; day <= 5; day++ {
			for i, block := range blocks {
				if i == 1 && gofakeit.Number(0, 100) < 50 {
					continue
				}
				s := seededSchedule{
					DoctorID:     doctorID,
					DayOfWeek:    day,
					StartTime:    block.start,
					EndTime:      block.end,
					SlotDuration: duration,
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO schedules (id, doctor_id, day_of_week, start_time, end_time,
						slot_duration, is_active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
				`, uuid.New(), s.DoctorID, s.DayOfWeek, s.StartTime, s.EndTime, s.SlotDuration)
				if err != nil {
					return nil, err
				}
				out = append(out, s)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("schedules seeded: %d", len(out))
	return out, nil
}

// seedAppointments books a share of every working window's slots over the
// next few weeks, each with its CREATED history row.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, schedules []seededSchedule, patients []uuid.UUID) error {
	log.Println("seeding appointments")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	count := 0

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for offset := 1; offset <= appointmentWeeks*7; offset++ {
		day := today.AddDate(0, 0, offset)
		for _, s := range schedules {
			if int(day.Weekday()) != s.DayOfWeek {
				continue
			}
			slots, err := timegrid.GenerateSlots(s.StartTime, s.EndTime, s.SlotDuration)
			if err != nil {
				return err
			}
			for _, slot := range slots {
				if gofakeit.Number(0, 100) >= appointmentChance {
					continue
				}
				minutes, err := timegrid.ToMinutes(slot)
				if err != nil {
					return err
				}
				start := day.Add(time.Duration(minutes) * time.Minute)
				patientID := patients[gofakeit.Number(0, len(patients)-1)]
				if err := insertAppointment(ctx, tx, s.DoctorID, patientID, start, s.SlotDuration); err != nil {
					return err
				}
				count++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("appointments seeded: %d", count)
	return nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, doctorID, patientID uuid.UUID, start time.Time, duration int) error {
	id := uuid.New()
	reason := gofakeit.Sentence(6)

	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, specialty_id, appointment_date,
			duration, reason, notes, status, cancelled_at, cancellation_reason, cancelled_by,
			completed_at, is_rescheduled, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, NULL, 'SCHEDULED', NULL, NULL, NULL,
			NULL, false, now(), now())
	`, id, patientID, doctorID, start, duration, reason)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_history (id, appointment_id, action, previous_status, new_status,
			previous_data, new_data, changed_fields, changed_by, changed_by_role, created_at)
		VALUES ($1, $2, 'CREATED', NULL, 'SCHEDULED', NULL, '{}', '{}', $3, 'PACIENTE', now())
	`, uuid.New(), id, patientID)
	return err
}
