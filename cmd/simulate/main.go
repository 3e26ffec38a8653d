package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability"
)

type SimConfig struct {
	APIBaseURL  string
	Username    string
	Password    string
	Duration    time.Duration
	Workers     int
	Slots       int
	StartDate   time.Time
	CancelRatio float64
	ReadRatio   float64
}

type slot struct {
	Doctor string
	Date   string
	Time   string
}

func (s slot) key() string { return s.Doctor + "|" + s.Date + "|" + s.Time }

// DataPool holds the contested slots and the ids booked so far.
type DataPool struct {
	Slots        []slot
	mu           sync.Mutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// TakeRandomAppointment removes and returns a booked id so it is cancelled at
// most once.
func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
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

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ConflictCheck OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	token   string
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	logger, err := observability.NewLogger(getEnv("LOG_LEVEL", "info"), "sim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("slots", cfg.Slots),
		zap.Float64("cancel_ratio", cfg.CancelRatio),
		zap.Float64("read_ratio", cfg.ReadRatio),
	)

	sim := &Simulator{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sim.login(ctx); err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	doctors, err := sim.listDoctors(ctx)
	if err != nil {
		logger.Fatal("list doctors failed", zap.Error(err))
	}
	sim.pool = buildDataPool(doctors, cfg)
	logger.Info("contested slots ready", zap.Int("slots", len(sim.pool.Slots)), zap.Int("doctors", len(doctors)))

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := sim.VerifyExclusivity(verifyCtx); err != nil {
		logger.Fatal("exclusivity check FAILED", zap.Error(err))
	}
	logger.Info("exclusivity check passed")
}

func loadConfig() (SimConfig, error) {
	start, err := time.Parse(time.DateOnly, getEnv("SIM_START_DATE", time.Now().AddDate(0, 0, 1).Format(time.DateOnly)))
	if err != nil {
		return SimConfig{}, fmt.Errorf("invalid SIM_START_DATE: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Username:    getEnv("SIM_USERNAME", "staff"),
		Password:    getEnv("SIM_PASSWORD", "staff123"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		Slots:       getInt("SIM_SLOTS", 20),
		StartDate:   start,
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.15),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.25),
	}
	return cfg, validateConfig(cfg)
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Slots <= 0 {
		return fmt.Errorf("SIM_SLOTS must be > 0")
	}
	if cfg.CancelRatio < 0 || cfg.ReadRatio < 0 || cfg.CancelRatio+cfg.ReadRatio >= 1 {
		return fmt.Errorf("SIM_CANCEL_RATIO + SIM_READ_RATIO must be in [0, 1)")
	}
	return nil
}

// buildDataPool spreads the contested slots over doctors and half-hour starts
// so every worker keeps colliding with the others.
func buildDataPool(doctors []string, cfg SimConfig) *DataPool {
	dp := &DataPool{}
	for i := 0; i < cfg.Slots; i++ {
		minutes := 8*60 + (i/len(doctors))*30
		day := cfg.StartDate.AddDate(0, 0, minutes/(24*60))
		minutes %= 24 * 60
		dp.Slots = append(dp.Slots, slot{
			Doctor: doctors[i%len(doctors)],
			Date:   day.Format(time.DateOnly),
			Time:   fmt.Sprintf("%02d:%02d", minutes/60, minutes%60),
		})
	}
	return dp
}

func (s *Simulator) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"username": s.config.Username, "password": s.config.Password})
	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	s.token = out.Token
	return nil
}

func (s *Simulator) listDoctors(ctx context.Context) ([]string, error) {
	var out struct {
		Doctors []string `json:"doctors"`
	}
	if err := s.getJSON(ctx, "/doctors", &out); err != nil {
		return nil, err
	}
	if len(out.Doctors) == 0 {
		return nil, errors.New("no active doctors")
	}
	return out.Doctors, nil
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, body any) *http.Request {
	var buf *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, _ := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	return req
}

func (s *Simulator) getJSON(ctx context.Context, path string, v any) error {
	resp, err := s.client.Do(s.newRequest(ctx, "GET", path, nil))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.CancelRatio+s.config.ReadRatio:
				s.doConflictCheck(ctx, rng)
			default:
				s.doBooking(ctx, rng, faker)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	resp, err := s.client.Do(s.newRequest(ctx, "POST", "/appointments", appointment.ScheduleRequest{
		PatientName: faker.Name(),
		DoctorName:  sl.Doctor,
		Date:        sl.Date,
		Time:        sl.Time,
	}))
	latency := time.Since(start)

	if err == nil {
		defer resp.Body.Close()
	}
	// requests cut off by the end of the run are not counted
	if ctx.Err() != nil {
		return
	}

	success := false
	conflict := false

	if err == nil {
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt struct {
				ID int64 `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID > 0 {
				s.pool.AddAppointment(appt.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(s.newRequest(ctx, "PATCH",
		fmt.Sprintf("/appointments/%d/status", id), map[string]string{"status": "cancelled"}))
	latency := time.Since(start)

	if err == nil {
		defer resp.Body.Close()
	}
	// requests cut off by the end of the run are not counted
	if ctx.Err() != nil {
		return
	}

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Cancel.Record(latency, success, false)
}

func (s *Simulator) doConflictCheck(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	q := url.Values{"doctor": {sl.Doctor}, "date": {sl.Date}, "time": {sl.Time}}

	start := time.Now()
	resp, err := s.client.Do(s.newRequest(ctx, "GET", "/appointments/conflicts?"+q.Encode(), nil))
	latency := time.Since(start)

	if err == nil {
		defer resp.Body.Close()
	}
	// requests cut off by the end of the run are not counted
	if ctx.Err() != nil {
		return
	}

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ConflictCheck.Record(latency, success, false)
}

// VerifyExclusivity lists every appointment and fails if two non-cancelled
// ones share a doctor, date and time.
func (s *Simulator) VerifyExclusivity(ctx context.Context) error {
	var out struct {
		Appointments []appointment.Appointment `json:"appointments"`
	}
	if err := s.getJSON(ctx, "/appointments", &out); err != nil {
		return err
	}

	seen := make(map[string]int64)
	active := 0
	for _, a := range out.Appointments {
		if a.Status == appointment.StatusCancelled {
			continue
		}
		active++
		key := slot{Doctor: a.DoctorName, Date: a.Date.String(), Time: a.Time.String()}.key()
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("appointments %d and %d both hold %s", prev, a.ID, key)
		}
		seen[key] = a.ID
	}

	s.logger.Info("verified appointments",
		zap.Int("total", len(out.Appointments)),
		zap.Int("active", active),
		zap.Int("slots", len(seen)),
	)
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contested slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Conflict check", &s.metrics.ConflictCheck)
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

// Helper functions

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

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
