package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/availability"
	"github.com/example/room-scheduler/internal/db"
	"github.com/example/room-scheduler/internal/metrics"
	"github.com/example/room-scheduler/internal/notify"
	"github.com/example/room-scheduler/internal/reservations"
)

type memStore struct {
	mu   sync.Mutex
	next int
	rows map[string]reservations.Reservation
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]reservations.Reservation{}}
}

func (m *memStore) Create(_ context.Context, res reservations.Reservation) (reservations.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	res.ID = fmt.Sprintf("res-%d", m.next)
	res.Status = reservations.StatusPending
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	m.rows[res.ID] = res
	return res, nil
}

func (m *memStore) Get(_ context.Context, id string) (reservations.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.rows[id]
	if !ok {
		return reservations.Reservation{}, db.ErrNotFound
	}
	return res, nil
}

func (m *memStore) SetStatus(_ context.Context, id string, status reservations.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	res.Status = status
	m.rows[id] = res
	return nil
}

func (m *memStore) ListByStatus(_ context.Context, status reservations.Status, _ int) ([]reservations.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reservations.Reservation
	for _, res := range m.rows {
		if res.Status == status {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *memStore) DayCounts(_ context.Context, _, _ string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, res := range m.rows {
		if res.Status == reservations.StatusPending || res.Status == reservations.StatusApproved {
			counts[res.Day]++
		}
	}
	return counts, nil
}

type stubQueue struct {
	mu    sync.Mutex
	specs []notify.TaskSpec
}

func (q *stubQueue) Enqueue(spec notify.TaskSpec) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.specs = append(q.specs, spec)
	return fmt.Sprintf("task-%d", len(q.specs))
}

func (q *stubQueue) Stats() notify.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return notify.Stats{Pending: len(q.specs)}
}

var testKey = bytes.Repeat([]byte{0x42}, 32)

// testServer wires a Server around in-memory fakes. Clock is pinned to
// Sunday 2025-06-01 so weekday-sensitive cases stay stable.
func testServer(t *testing.T) (*Server, *memStore, *stubQueue) {
	t.Helper()

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	engine := availability.NewEngine(time.UTC, availability.WithNow(func() time.Time { return now }))
	hours := availability.BusinessHours{}
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		hours[d] = availability.DaySchedule{Enabled: true, Slot: availability.Slot{Start: "09:00", End: "17:00"}}
	}

	store := newMemStore()
	queue := &stubQueue{}
	svc := reservations.NewService(store, engine, hours, queue,
		reservations.ServiceConfig{DailyCapacity: 2, LimitedAt: 1}, zerolog.Nop())

	authStore := auth.NewStore(nil, testKey, testKey)
	return NewServer(authStore, svc, queue, metrics.New(), zerolog.Nop(), ""), store, queue
}

func staffCookie(t *testing.T, s *Server) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := s.Auth.SetSession(rec, req, auth.Session{UserID: 1, Role: auth.RoleStaff}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie issued")
	}
	return cookies[0]
}

func TestCreateReservation(t *testing.T) {
	s, _, queue := testServer(t)
	h := s.Routes()

	body := `{"name":"Ada","email":"ada@example.com","room":"A","day":"2025-06-02","start_time":"10:00","end_time":"11:00"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["status"] != string(reservations.StatusPending) {
		t.Errorf("status = %v, want pending", got["status"])
	}
	if got["id"] == "" {
		t.Error("response carries no id")
	}
	queue.mu.Lock()
	n := len(queue.specs)
	queue.mu.Unlock()
	if n != 2 {
		t.Errorf("enqueued %d notifications, want user confirmation + admin alert", n)
	}
}

func TestCreateReservationValidation(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing email", `{"name":"Ada","room":"A","day":"2025-06-02","start_time":"10:00","end_time":"11:00"}`},
		{"bad email", `{"name":"Ada","email":"nope","room":"A","day":"2025-06-02","start_time":"10:00","end_time":"11:00"}`},
		{"bad day format", `{"name":"Ada","email":"a@b.co","room":"A","day":"06/02/2025","start_time":"10:00","end_time":"11:00"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateReservationClosedDay(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	// 2025-06-08 is a Sunday, outside the configured hours.
	body := `{"name":"Ada","email":"ada@example.com","room":"A","day":"2025-06-08","start_time":"10:00","end_time":"11:00"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCreateReservationOutsideHours(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	body := `{"name":"Ada","email":"ada@example.com","room":"A","day":"2025-06-02","start_time":"18:00","end_time":"19:00"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestAvailabilityWindow(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/availability?from=2025-06-02&to=2025-06-03", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	var got struct {
		Days map[string]string `json:"days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Days["2025-06-02"] != "available" {
		t.Errorf("monday = %q, want available", got.Days["2025-06-02"])
	}
}

func TestAvailabilityDefaultWindowUsesBookingTimezone(t *testing.T) {
	// 02:00 UTC on June 2nd is still June 1st in the booking zone; the
	// default window must start on the booking-zone day.
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)
	engine := availability.NewEngine(loc, availability.WithNow(func() time.Time { return now }))
	hours := availability.BusinessHours{
		"monday": {Enabled: true, Slot: availability.Slot{Start: "09:00", End: "17:00"}},
	}
	svc := reservations.NewService(newMemStore(), engine, hours, &stubQueue{},
		reservations.ServiceConfig{DailyCapacity: 2, LimitedAt: 1}, zerolog.Nop())
	s := NewServer(auth.NewStore(nil, testKey, testKey), svc, &stubQueue{}, metrics.New(), zerolog.Nop(), "")
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/availability", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	var got struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.From != "2025-06-01" {
		t.Errorf("from = %q, want 2025-06-01 (booking-zone day, not UTC)", got.From)
	}
	if got.To != "2025-07-01" {
		t.Errorf("to = %q, want 2025-07-01", got.To)
	}
}

func TestAvailabilityBadWindow(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	for _, target := range []string{
		"/api/availability?from=bogus",
		"/api/availability?from=2025-06-10&to=2025-06-02",
		"/api/availability?from=2025-06-02&to=2026-06-02",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestNextAvailable(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/availability/next?from=2025-06-07", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Found bool   `json:"found"`
		Day   string `json:"day"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Saturday and Sunday are closed, so the next open day is Monday.
	if !got.Found || got.Day != "2025-06-09" {
		t.Errorf("next = %+v, want 2025-06-09", got)
	}
}

func TestStaffRoutesRequireSession(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	cookie := staffCookie(t, s)
	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff status = %d, body %q", rec.Code, rec.Body.String())
	}
	var got struct {
		Pending  int `json:"pending"`
		InFlight int `json:"in_flight"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestApproveTransition(t *testing.T) {
	s, store, _ := testServer(t)
	h := s.Routes()
	cookie := staffCookie(t, s)

	created, err := store.Create(context.Background(), reservations.Reservation{
		Name: "Ada", Email: "ada@example.com", Room: "A",
		Day: "2025-06-02", StartTime: "10:00", EndTime: "11:00",
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+created.ID+"/approve", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %q", rec.Code, rec.Body.String())
	}
	got, _ := store.Get(context.Background(), created.ID)
	if got.Status != reservations.StatusApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}

	// Approving twice is an invalid transition.
	req = httptest.NewRequest(http.MethodPost, "/api/reservations/"+created.ID+"/approve", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/reservations/missing/approve", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestHealthAndIndexPages(t *testing.T) {
	s, _, _ := testServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("index = %d, body %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Book a room") {
		t.Error("index page missing booking form")
	}
}
