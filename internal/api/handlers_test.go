package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

type testServer struct {
	handler http.Handler
	issuer  *auth.Issuer
}

type serverOpts struct {
	stores    *appointment.Stores
	checks    map[string]HealthCheck
	loginRate float64
	burst     int
}

func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()

	stores := opts.stores
	if stores == nil {
		mem := appointment.NewMemoryStore()
		require.NoError(t, mem.SeedDefaults(context.Background()))
		stores = &appointment.Stores{Appointments: mem, Directory: mem, Accounts: mem}
	}
	if opts.loginRate == 0 {
		opts.loginRate, opts.burst = 1000, 1000
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	svc := appointment.NewService(*stores, appointment.ServiceConfig{StoreTimeout: time.Second}, zap.NewNop(), m)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:      svc,
			Issuer:       issuer,
			LoginLimiter: NewRateLimiter(opts.loginRate, opts.burst),
			Metrics:      m,
			Gatherer:     reg,
			Checks:       opts.checks,
			Logger:       zap.NewNop(),
			Env:          "test",
		}),
		issuer: issuer,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) token(t *testing.T, username, role string) string {
	t.Helper()
	tok, err := s.issuer.Issue(username, role)
	require.NoError(t, err)
	return tok
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func booking(patient, doctor, date, clock string) map[string]string {
	return map[string]string{
		"patient_name":     patient,
		"doctor_name":      doctor,
		"appointment_date": date,
		"appointment_time": clock,
	}
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	rec := srv.do(t, http.MethodPost, "/login", "", LoginRequest{Username: "admin", Password: "clinic123"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.True(t, resp.OK)
	assert.Equal(t, "admin", resp.Role)

	claims, err := srv.issuer.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	rec = srv.do(t, http.MethodPost, "/login", "", LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/login", "", LoginRequest{Username: "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password", decode[ErrorResponse](t, rec).Field)
}

func TestLogin_RateLimited(t *testing.T) {
	srv := newTestServer(t, serverOpts{loginRate: 0.001, burst: 2})

	for i := 0; i < 2; i++ {
		rec := srv.do(t, http.MethodPost, "/login", "", LoginRequest{Username: "staff", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/login", "", LoginRequest{Username: "staff", Password: "staff123"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	rec := srv.do(t, http.MethodGet, "/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := auth.NewIssuer("another-secret", time.Hour)
	forged, err := other.Issue("admin", "admin")
	require.NoError(t, err)
	rec = srv.do(t, http.MethodGet, "/appointments", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookCancelRebook(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	tok := srv.token(t, "staff", "staff")

	rec := srv.do(t, http.MethodPost, "/appointments", tok, booking("Alice", "Dr. Smith", "2024-06-01", "09:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	alice := decode[appointment.Appointment](t, rec)
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, appointment.StatusScheduled, alice.Status)

	rec = srv.do(t, http.MethodPost, "/appointments", tok, booking("Bob", "Dr. Smith", "2024-06-01", "9:00"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments/conflicts?doctor=Dr.+Smith&date=2024-06-01&time=09:00", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ConflictResponse](t, rec).Conflict)

	rec = srv.do(t, http.MethodPatch, "/appointments/1/status", tok, StatusUpdateRequest{Status: "Cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusUpdateResponse{ID: 1, Status: "cancelled"}, decode[StatusUpdateResponse](t, rec))

	rec = srv.do(t, http.MethodPost, "/appointments", tok, booking("Bob", "Dr. Smith", "2024-06-01", "09:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(2), decode[appointment.Appointment](t, rec).ID)

	rec = srv.do(t, http.MethodGet, "/appointments", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentsResponse](t, rec).Appointments
	require.Len(t, list, 2)
}

func TestScheduleValidation(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	tok := srv.token(t, "staff", "staff")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{"missing patient", booking("", "Dr. Smith", "2024-06-01", "09:00"), http.StatusBadRequest, "missing_field", "patient_name"},
		{"blank doctor", booking("Alice", "   ", "2024-06-01", "09:00"), http.StatusBadRequest, "missing_field", "doctor_name"},
		{"bad minutes", booking("Alice", "Dr. Smith", "2024-06-01", "9:5"), http.StatusUnprocessableEntity, "invalid_format", "appointment_time"},
		{"hour out of range", booking("Alice", "Dr. Smith", "2024-06-01", "25:00"), http.StatusUnprocessableEntity, "invalid_format", "appointment_time"},
		{"bad date", booking("Alice", "Dr. Smith", "2024-13-01", "09:00"), http.StatusUnprocessableEntity, "invalid_format", "appointment_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/appointments", tok, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)
}

func TestListAppointmentsInRange(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	tok := srv.token(t, "staff", "staff")

	for _, d := range []string{"2024-05-31", "2024-06-01", "2024-06-15", "2024-07-01"} {
		rec := srv.do(t, http.MethodPost, "/appointments", tok, booking("Alice", "Dr. Brown", d, "10:00"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := srv.do(t, http.MethodGet, "/appointments?start=2024-06-01&end=2024-06-30", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[AppointmentsResponse](t, rec).Appointments
	require.Len(t, got, 2)
	assert.Equal(t, "2024-06-01", got[0].Date.String())
	assert.Equal(t, "2024-06-15", got[1].Date.String())

	rec = srv.do(t, http.MethodGet, "/appointments?start=2024-06-01", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "end", decode[ErrorResponse](t, rec).Field)

	rec = srv.do(t, http.MethodGet, "/appointments?start=2024-07-01&end=2024-06-01", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"appointments":[]}`, rec.Body.String())
}

func TestUpdateStatusErrors(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	tok := srv.token(t, "staff", "staff")

	rec := srv.do(t, http.MethodPatch, "/appointments/42/status", tok, StatusUpdateRequest{Status: "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPatch, "/appointments/abc/status", tok, StatusUpdateRequest{Status: "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "id", decode[ErrorResponse](t, rec).Field)

	rec = srv.do(t, http.MethodPatch, "/appointments/1/status", tok, StatusUpdateRequest{Status: "postponed"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "status", decode[ErrorResponse](t, rec).Field)
}

func TestDoctors(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	staff := srv.token(t, "staff", "staff")
	admin := srv.token(t, "admin", "admin")

	rec := srv.do(t, http.MethodGet, "/doctors", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[DoctorsResponse](t, rec).Doctors, "Dr. Davis")

	rec = srv.do(t, http.MethodPut, "/doctors/Dr.%20Davis/active", staff, map[string]bool{"active": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPut, "/doctors/Dr.%20Davis/active", admin, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, DoctorActiveResponse{Name: "Dr. Davis", Active: false}, decode[DoctorActiveResponse](t, rec))

	rec = srv.do(t, http.MethodGet, "/doctors", staff, nil)
	assert.NotContains(t, decode[DoctorsResponse](t, rec).Doctors, "Dr. Davis")

	rec = srv.do(t, http.MethodPut, "/doctors/Dr.%20Who/active", admin, map[string]bool{"active": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPut, "/doctors/Dr.%20Davis/active", admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type downStore struct {
	*appointment.MemoryStore
}

func (downStore) ListAll(context.Context) ([]appointment.Appointment, error) {
	return nil, fmt.Errorf("list: %w: %w", appointment.ErrStorageUnavailable, errors.New("connection reset"))
}

func TestStorageUnavailableIs503(t *testing.T) {
	mem := appointment.NewMemoryStore()
	srv := newTestServer(t, serverOpts{stores: &appointment.Stores{
		Appointments: downStore{mem}, Directory: mem, Accounts: mem,
	}})

	rec := srv.do(t, http.MethodGet, "/appointments", srv.token(t, "staff", "staff"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "storage_unavailable", resp.Error)
	assert.NotContains(t, resp.Details, "connection reset")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, serverOpts{checks: map[string]HealthCheck{
		"memory": func(context.Context) error { return nil },
		"redis":  func(context.Context) error { return errors.New("dial tcp: refused") },
	}})

	rec := srv.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, map[string]string{"memory": "ok", "redis": "down"}, ready.Dependencies)

	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_http_requests_total{method="GET",route="/health/ready",status="503"} 1`)
}

func TestRequestIDPropagates(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = srv.do(t, http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
