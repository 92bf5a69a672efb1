package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/config"
	"github.com/hackgods/clinician-slot-scheduling/internal/db"
	"github.com/hackgods/clinician-slot-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	ReserveRatio    float64
	ReleaseRatio    float64
	RescheduleRatio float64
	ReadRatio       float64
	PatientLimit    int
	SlotLimit       int
	PostgresDSN     string
}

// DataPool holds the ids workers draw from. Appointments map to the slot they
// currently occupy so releases target the right slot after a reschedule.
type DataPool struct {
	Patients     []uuid.UUID
	Slots        []uuid.UUID
	mu           sync.RWMutex
	appointments map[uuid.UUID]uuid.UUID
	apptIDs      []uuid.UUID
}

func (dp *DataPool) AddAppointment(id, slotID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, ok := dp.appointments[id]; !ok {
		dp.apptIDs = append(dp.apptIDs, id)
	}
	dp.appointments[id] = slotID
}

func (dp *DataPool) RemoveAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.appointments, id)
	for i, a := range dp.apptIDs {
		if a == id {
			dp.apptIDs[i] = dp.apptIDs[len(dp.apptIDs)-1]
			dp.apptIDs = dp.apptIDs[:len(dp.apptIDs)-1]
			break
		}
	}
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (apptID, slotID uuid.UUID, ok bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.apptIDs) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	id := dp.apptIDs[rng.Intn(len(dp.apptIDs))]
	return id, dp.appointments[id], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Reserve    OperationMetrics
	Release    OperationMetrics
	Reschedule OperationMetrics
	ReadSlot   OperationMetrics
	ReadAppt   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	base, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info", "simulate")
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.New(base.Env, base.LogLevel, "simulate")

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("reserve", cfg.ReserveRatio).
		Float64("release", cfg.ReleaseRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		ReserveRatio:    getFloat("SIM_RESERVE_RATIO", 0.45),
		ReleaseRatio:    getFloat("SIM_RELEASE_RATIO", 0.1),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:     base.PostgresDSN,
	}

	total := cfg.ReserveRatio + cfg.ReleaseRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ReserveRatio /= total
		cfg.ReleaseRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
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
	dataPool := &DataPool{appointments: make(map[uuid.UUID]uuid.UUID)}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	// Slots are shuffled server-side so workers spread over many clinicians
	// instead of hammering the first one.
	dataPool.Slots, err = loadIDs(ctx, pool, `
		SELECT id FROM slots
		WHERE status = 'available' AND slot_date >= current_date
		ORDER BY random()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no available slots loaded, generate slots first")
	}

	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
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
			case r < s.config.ReserveRatio:
				s.doReserve(ctx, rng)
			case r < s.config.ReserveRatio+s.config.ReleaseRatio:
				s.doRelease(ctx, rng)
			case r < s.config.ReserveRatio+s.config.ReleaseRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadSlot(ctx, rng)
				} else {
					s.doReadAppointment(ctx, rng)
				}
			}
		}
	}
}

type appointmentBody struct {
	ID     uuid.UUID `json:"id"`
	SlotID uuid.UUID `json:"slot_id"`
}

// post sends a JSON body and reports the status code. Transport errors count as status 0.
func (s *Simulator) post(ctx context.Context, path string, body any, out any) (int, time.Duration) {
	payload, _ := json.Marshal(body)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, time.Since(start)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) get(ctx context.Context, path string) (int, time.Duration) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, time.Since(start)
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var appt appointmentBody
	status, latency := s.post(ctx, "/slots/"+slotID.String()+"/reserve", map[string]string{
		"patient_id": patientID.String(),
		"reason":     "simulated visit",
	}, &appt)
	if ctx.Err() != nil {
		return
	}

	if status == http.StatusCreated && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID, slotID)
	}
	s.metrics.Reserve.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doRelease(ctx context.Context, rng *rand.Rand) {
	apptID, slotID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	status, latency := s.post(ctx, "/slots/"+slotID.String()+"/release", map[string]string{
		"reason": "simulated cancellation",
	}, nil)
	if ctx.Err() != nil {
		return
	}

	// 404 means another worker released it first
	if status == http.StatusOK || status == http.StatusNotFound {
		s.pool.RemoveAppointment(apptID)
	}
	s.metrics.Release.Record(latency, status == http.StatusOK, status == http.StatusNotFound || status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, _, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	var appt appointmentBody
	status, latency := s.post(ctx, "/appointments/"+apptID.String()+"/reschedule", map[string]string{
		"new_slot_id": target.String(),
		"reason":      "simulated reschedule",
	}, &appt)
	if ctx.Err() != nil {
		return
	}

	if status == http.StatusOK {
		s.pool.AddAppointment(apptID, appt.SlotID)
	}
	s.metrics.Reschedule.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadSlot(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	status, latency := s.get(ctx, "/slots/"+slotID.String())
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadSlot.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) doReadAppointment(ctx context.Context, rng *rand.Rand) {
	apptID, _, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.get(ctx, "/appointments/"+apptID.String())
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadAppt.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Release", &s.metrics.Release)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read slot", &s.metrics.ReadSlot)
	printOperationReport("Read appointment", &s.metrics.ReadAppt)

	s.pool.mu.RLock()
	held := len(s.pool.apptIDs)
	s.pool.mu.RUnlock()
	fmt.Printf("Appointments still held by the simulator: %d\n", held)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
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
