package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/db"
)

// Load generator for the scheduling API. Hammers bookings, availability
// lookups and same-day queue joins with configurable ratios, then prints a
// latency report per operation.

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	QueueRatio        float64
	AvailabilityRatio float64
	DoctorLimit       int
	PatientLimit      int
	PostgresDSN       string
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu      sync.RWMutex
	tickets []uuid.UUID
}

func (dp *DataPool) AddTicket(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.tickets = append(dp.tickets, id)
}

func (dp *DataPool) RandomTicket() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.tickets) == 0 {
		return uuid.Nil, false
	}
	return dp.tickets[rand.Intn(len(dp.tickets))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Availability OperationMetrics
	QueueJoin    OperationMetrics
	Position     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f queue=%.2f availability=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.QueueRatio, cfg.AvailabilityRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d patients", len(dataPool.Doctors), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.4),
		QueueRatio:        getFloat("SIM_QUEUE_RATIO", 0.3),
		AvailabilityRatio: getFloat("SIM_AVAILABILITY_RATIO", 0.3),
		DoctorLimit:       getInt("SIM_DOCTOR_LIMIT", 50),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 2000),
		PostgresDSN:       baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.QueueRatio + cfg.AvailabilityRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.QueueRatio /= total
		cfg.AvailabilityRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT DISTINCT doctor_id FROM schedules WHERE is_active LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT DISTINCT patient_id FROM appointments LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.QueueRatio:
				if rng.Intn(2) == 0 {
					s.doQueueJoin(ctx, rng)
				} else {
					s.doPosition(ctx, rng)
				}
			default:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

// asPatient stamps the gateway identity headers the API trusts.
func asPatient(req *http.Request, patientID uuid.UUID) {
	req.Header.Set("X-Actor-ID", patientID.String())
	req.Header.Set("X-Actor-Role", appointment.RolePatient)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	// Random weekday slot within the next two weeks.
	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1+rng.Intn(14))
	hour := 8 + rng.Intn(9)
	minute := 30 * rng.Intn(2)
	date := day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)

	start := time.Now()

	reqBody := map[string]any{
		"patientId":       patientID.String(),
		"doctorId":        doctorID.String(),
		"appointmentDate": date.Format(time.RFC3339),
		"duration":        30,
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	asPatient(req, patientID)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusBadRequest
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doQueueJoin(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	reqBody := map[string]string{"doctorId": doctorID.String()}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/queue/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	asPatient(req, patientID)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			success = true
			var joinResp struct {
				Ticket struct {
					ID uuid.UUID `json:"id"`
				} `json:"ticket"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &joinResp) == nil && joinResp.Ticket.ID != uuid.Nil {
				s.pool.AddTicket(joinResp.Ticket.ID)
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.QueueJoin.Record(latency, success, conflict)
}

func (s *Simulator) doPosition(ctx context.Context, rng *rand.Rand) {
	ticketID, ok := s.pool.RandomTicket()
	if !ok {
		return
	}
	// Position reads need an admin actor since the ticket owner is unknown here.
	adminID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/queue/tickets/%s/position", s.config.APIBaseURL, ticketID), nil)
	req.Header.Set("X-Actor-ID", adminID.String())
	req.Header.Set("X-Actor-Role", appointment.RoleAdmin)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Position.Record(latency, success, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	day := time.Now().UTC().AddDate(0, 0, 1+rng.Intn(14)).Format("2006-01-02")

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/schedules/doctor/%s/availability?date=%s", s.config.APIBaseURL, doctorID, day), nil)
	asPatient(req, patientID)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Queue Join", &s.metrics.QueueJoin)
	printOperationReport("Queue Position", &s.metrics.Position)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
