package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Rounds      int           // contested slots
	Contenders  int           // concurrent bookings per contested slot
	Duration    time.Duration // mixed load phase, zero skips it
	Workers     int
	PostgresDSN string
	JWTSecret   string
}

// target is the clinic/doctor pair every request goes to.
type target struct {
	ClinicID   uuid.UUID
	DoctorID   uuid.UUID
	DoctorName string
	Location   *time.Location
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

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	worst = latencies[len(latencies)-1]
	return avg, p50, p95, worst
}

type Metrics struct {
	Contested OperationMetrics
	Booking   OperationMetrics
	Listing   OperationMetrics
	Cancel    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	target  target
	token   string
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics

	// contested slots that ended with a winner count other than one
	violations atomic.Int64

	mu     sync.Mutex
	booked []uuid.UUID
}

func main() {
	cfg := loadConfig()
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "simulate")
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	tgt, err := loadTarget(ctx, pgPool)
	pgPool.Close()
	if err != nil {
		logger.Error("load target", "error", err)
		os.Exit(1)
	}

	token, err := mintToken(cfg.JWTSecret, tgt.ClinicID)
	if err != nil {
		logger.Error("mint token", "error", err)
		os.Exit(1)
	}

	sim := &Simulator{
		config: cfg,
		target: tgt,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	logger.Info("simulation starting",
		"clinic_id", tgt.ClinicID,
		"doctor_id", tgt.DoctorID,
		"rounds", cfg.Rounds,
		"contenders", cfg.Contenders,
		"duration", cfg.Duration,
	)

	sim.Run(context.Background())
	sim.PrintReport()

	if sim.violations.Load() > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	base, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}
	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:      getInt("SIM_ROUNDS", 20),
		Contenders:  getInt("SIM_CONTENDERS", 25),
		Duration:    getDuration("SIM_DURATION", 20*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		PostgresDSN: base.PostgresDSN,
		JWTSecret:   base.JWTSecret,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to sign simulator tokens")
	}
	if cfg.Contenders < 2 {
		return errors.New("SIM_CONTENDERS must be at least 2")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	return nil
}

func loadTarget(ctx context.Context, pool *pgxpool.Pool) (target, error) {
	var t target
	var tz string
	err := pool.QueryRow(ctx, `
		SELECT c.id, c.timezone, d.id, d.name
		FROM clinics c
		JOIN doctors d ON d.clinic_id = c.id AND d.active
		ORDER BY c.created_at, d.created_at
		LIMIT 1
	`).Scan(&t.ClinicID, &tz, &t.DoctorID, &t.DoctorName)
	if err != nil {
		return t, fmt.Errorf("no clinic with an active doctor, run cmd/seed first: %w", err)
	}
	t.Location, err = time.LoadLocation(tz)
	if err != nil {
		t.Location = time.UTC
	}
	return t, nil
}

func mintToken(secret string, clinicID uuid.UUID) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, access.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "simulator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ClinicID: clinicID.String(),
		Roles:    []string{string(access.RoleOwner)},
	}).SignedString([]byte(secret))
}

func (s *Simulator) Run(ctx context.Context) {
	slots := s.collectSlots(ctx, s.config.Rounds*4)
	if len(slots) == 0 {
		s.logger.Error("no open slots found in the next weeks")
		return
	}

	contested := slots[:min(s.config.Rounds, len(slots))]
	for _, slot := range contested {
		s.contest(ctx, slot)
	}

	if s.config.Duration <= 0 {
		return
	}
	s.mixedLoad(ctx, slots[len(contested):])
}

// collectSlots walks forward day by day until it has want open slots.
func (s *Simulator) collectSlots(ctx context.Context, want int) []api.SlotResponse {
	var out []api.SlotResponse
	day := time.Now().In(s.target.Location).AddDate(0, 0, 1)
	for i := 0; i < 60 && len(out) < want; i++ {
		date := day.AddDate(0, 0, i).Format("2006-01-02")
		var resp api.SlotsResponse
		status, err := s.call(ctx, http.MethodGet,
			fmt.Sprintf("/slots?date=%s&doctor_id=%s", date, s.target.DoctorID), nil, &resp)
		if err != nil || status != http.StatusOK {
			s.logger.Warn("slot lookup failed", "date", date, "status", status, "error", err)
			continue
		}
		out = append(out, resp.Slots...)
	}
	return out
}

// contest fires every contender at the same slot at once; exactly one may win.
func (s *Simulator) contest(ctx context.Context, slot api.SlotResponse) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	var winners atomic.Int64

	for i := 0; i < s.config.Contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			ok, _ := s.book(ctx, slot, fmt.Sprintf("Contender %d", n), &s.metrics.Contested)
			if ok {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if w := winners.Load(); w != 1 {
		s.violations.Add(1)
		s.logger.Error("contested slot did not have exactly one winner", "start", slot.StartTime, "winners", w)
	}
}

func (s *Simulator) mixedLoad(ctx context.Context, slots []api.SlotResponse) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				switch r := rng.Float64(); {
				case r < 0.5 && len(slots) > 0:
					s.book(ctx, slots[rng.Intn(len(slots))], fmt.Sprintf("Patient %d", rng.Intn(10000)), &s.metrics.Booking)
				case r < 0.85:
					s.list(ctx)
				default:
					s.cancelRandom(ctx, rng)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) book(ctx context.Context, slot api.SlotResponse, patient string, om *OperationMetrics) (bool, error) {
	local := slot.StartTime.In(s.target.Location)
	req := api.CreateAppointmentRequest{
		DoctorID:    s.target.DoctorID.String(),
		DoctorName:  s.target.DoctorName,
		PatientName: patient,
		Date:        local.Format("2006-01-02"),
		Time:        local.Format("15:04"),
	}

	began := time.Now()
	var created api.AppointmentResponse
	status, err := s.call(ctx, http.MethodPost, "/appointments", req, &created)
	om.Record(time.Since(began), status == http.StatusCreated, status == http.StatusConflict)

	if status == http.StatusCreated {
		s.mu.Lock()
		s.booked = append(s.booked, created.ID)
		s.mu.Unlock()
		return true, nil
	}
	return false, err
}

func (s *Simulator) list(ctx context.Context) {
	from := time.Now().UTC().Format(time.RFC3339)
	to := time.Now().UTC().AddDate(0, 2, 0).Format(time.RFC3339)

	began := time.Now()
	status, _ := s.call(ctx, http.MethodGet, "/appointments?from="+from+"&to="+to, nil, nil)
	s.metrics.Listing.Record(time.Since(began), status == http.StatusOK, false)
}

func (s *Simulator) cancelRandom(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.booked) == 0 {
		s.mu.Unlock()
		return
	}
	id := s.booked[rng.Intn(len(s.booked))]
	s.mu.Unlock()

	began := time.Now()
	status, _ := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", nil, nil)
	s.metrics.Cancel.Record(time.Since(began), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("%s/v1/clinics/%s%s", s.config.APIBaseURL, s.target.ClinicID, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Contested slots: %d x %d contenders\n", s.config.Rounds, s.config.Contenders)
	fmt.Printf("Double-booking violations: %d\n", s.violations.Load())
	fmt.Println()

	printOperationReport("Contested booking", &s.metrics.Contested)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Listing", &s.metrics.Listing)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
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
