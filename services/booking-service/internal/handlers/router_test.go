package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
)

const monday = "2025-01-06"

type testServer struct {
	mux        http.Handler
	store      *memory.Store
	admin      string
	provider   string
	providerID string
	serviceID  string
}

func newTestServer(t *testing.T, limiters Limiters) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	idSvc := identity.NewService(store, auth.NewSigner("handler-test-signing-key", time.Hour), 24*time.Hour, logger)
	require.NoError(t, idSvc.EnsureAdmin(ctx, "admin@example.com", "admin-password"))
	engine := availability.NewEngine(store, store, store, time.UTC).WithClock(func() time.Time { return now })
	emitter := events.NewEmitter(logger)

	mux := NewRouter(Deps{
		Identity:     idSvc,
		Catalog:      catalog.NewService(store, logger),
		Engine:       engine,
		Booking:      booking.NewCoordinator(engine, store, emitter, notify.NewNotifier(nil, logger), logger),
		Appointments: appointments.NewService(engine, store, emitter, logger),
		Limiters:     limiters,
		Logger:       logger,
	})
	ts := &testServer{mux: httpx.Chain(mux, httpx.WithRequestID), store: store}
	ts.admin = ts.login(t, "admin@example.com", "admin-password")
	return ts
}

// seedProvider registers a provider with Mon hours and one 60-minute service.
func (ts *testServer) seedProvider(t *testing.T, start, end string) {
	t.Helper()
	var session struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "p@example.com", "password": "provider-pass", "display_name": "Pat",
		"role": "provider", "business_name": "Cuts",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &session)
	ts.provider = session.AccessToken
	p, err := ts.store.GetProviderByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	ts.providerID = p.ID

	rec = ts.do(t, http.MethodPut, "/providers/"+ts.providerID+"/working-hours", ts.provider, []map[string]any{
		{"day_of_week": 1, "start_time": start, "end_time": end},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/services", ts.provider, map[string]any{
		"name": "Trim", "duration_minutes": 60, "price": 150,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var svc struct {
		ID string `json:"id"`
	}
	decode(t, rec, &svc)
	ts.serviceID = svc.ID
}

func (ts *testServer) registerCustomer(t *testing.T, email string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": email, "password": "customer-pass", "display_name": "Cus",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &session)
	return session.AccessToken
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &session)
	return session.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) slots(t *testing.T) []string {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/appointments/available-slots?provider_id="+ts.providerID+"&service_id="+ts.serviceID+"&date="+monday, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out []string
	decode(t, rec, &out)
	return out
}

func (ts *testServer) book(t *testing.T, token, start string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", token, map[string]any{
		"provider_id": ts.providerID, "service_id": ts.serviceID, "date": monday, "start_time": start,
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestBookingLifecycle(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00"}, ts.slots(t))

	rec := ts.book(t, customer, "10:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt appointmentResponse
	decode(t, rec, &appt)
	assert.Equal(t, "10:00", appt.StartTime)
	assert.Equal(t, "11:00", appt.EndTime)
	assert.Equal(t, "pending", appt.Status)
	assert.Equal(t, 150.0, appt.PriceSnapshot)
	assert.False(t, appt.IsGuest)

	// 09:30 and 10:30 both overlap 10:00-11:00.
	assert.Equal(t, []string{"09:00", "11:00"}, ts.slots(t))

	other := ts.registerCustomer(t, "c2@example.com")
	rec = ts.book(t, other, "10:30")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/appointments/"+appt.ID, customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled appointmentResponse
	decode(t, rec, &cancelled)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00"}, ts.slots(t))
}

func TestConcurrentBookingsOneWins(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	tokens := []string{ts.registerCustomer(t, "c1@example.com"), ts.registerCustomer(t, "c2@example.com")}

	codes := make([]int, len(tokens))
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			codes[i] = ts.book(t, tok, "09:00").Code
		}(i, tok)
	}
	wg.Wait()
	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)
}

func TestRepeatBookingReturnsExisting(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	first := ts.book(t, customer, "09:00")
	require.Equal(t, http.StatusCreated, first.Code)
	second := ts.book(t, customer, "09:00")
	require.Equal(t, http.StatusOK, second.Code)

	var a, b appointmentResponse
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a.ID, b.ID)
}

func TestShortWorkingWindowHasNoSlots(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "09:45")
	assert.Equal(t, []string{}, ts.slots(t))
}

func TestListAppointmentsFiltersByRole(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	c1 := ts.registerCustomer(t, "c1@example.com")
	c2 := ts.registerCustomer(t, "c2@example.com")

	require.Equal(t, http.StatusCreated, ts.book(t, c1, "09:00").Code)
	require.Equal(t, http.StatusCreated, ts.book(t, c2, "11:00").Code)

	list := func(token string) []appointmentResponse {
		rec := ts.do(t, http.MethodGet, "/appointments", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []appointmentResponse
		decode(t, rec, &out)
		return out
	}
	mine := list(c2)
	require.Len(t, mine, 1)
	assert.Equal(t, "11:00", mine[0].StartTime)
	assert.Len(t, list(ts.admin), 2)
	assert.Len(t, list(ts.provider), 2)

	rec := ts.do(t, http.MethodGet, "/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuestBooking(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")

	rec := ts.do(t, http.MethodPost, "/appointments", "", map[string]any{
		"provider_id": ts.providerID, "service_id": ts.serviceID, "date": monday, "start_time": "09:00",
		"guest_name": "Gail", "guest_email": "gail@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt appointmentResponse
	decode(t, rec, &appt)
	assert.True(t, appt.IsGuest)
	assert.Empty(t, appt.CustomerID)
	assert.Equal(t, "gail@example.com", appt.GuestEmail)

	rec = ts.do(t, http.MethodGet, "/appointments/"+appt.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments", "", map[string]any{
		"provider_id": ts.providerID, "service_id": ts.serviceID, "date": monday, "start_time": "11:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	rec := ts.do(t, http.MethodPost, "/appointments", customer, map[string]any{
		"provider_id": "nope", "service_id": ts.serviceID, "date": "06/01/2025", "start_time": "10:00",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error   string `json:"error"`
		Details []struct {
			Field string `json:"field"`
			Rule  string `json:"rule"`
		} `json:"details"`
	}
	decode(t, rec, &body)
	assert.NotEmpty(t, body.Error)
	fields := make([]string, 0, len(body.Details))
	for _, d := range body.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"provider_id", "date"}, fields)

	rec = ts.do(t, http.MethodGet, "/appointments/available-slots?provider_id="+ts.providerID+"&date="+monday, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/providers/00000000-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+customer)
	raw := httptest.NewRecorder()
	ts.mux.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.registerCustomer(t, "c1@example.com")

	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "C1@example.com", "password": "customer-pass", "display_name": "Dup",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "c1@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "c1@example.com", "password": "customer-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, rec, &session)

	rec = ts.do(t, http.MethodGet, "/auth/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	decode(t, rec, &me)
	assert.Equal(t, "c1@example.com", me.Email)
	assert.Equal(t, "customer", me.Role)

	rec = ts.do(t, http.MethodGet, "/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	raw := httptest.NewRecorder()
	ts.mux.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusUnauthorized, raw.Code)

	rec = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/users", session.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, http.MethodGet, "/admin/users", ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	rec := ts.do(t, http.MethodGet, "/providers/"+ts.providerID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		BusinessName string `json:"business_name"`
		Services     []struct {
			ID string `json:"id"`
		} `json:"services"`
		WorkingHours []struct {
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
		} `json:"working_hours"`
	}
	decode(t, rec, &detail)
	assert.Equal(t, "Cuts", detail.BusinessName)
	require.Len(t, detail.Services, 1)
	require.Len(t, detail.WorkingHours, 1)
	assert.Equal(t, "09:00", detail.WorkingHours[0].StartTime)
	assert.Equal(t, "12:00", detail.WorkingHours[0].EndTime)

	rec = ts.do(t, http.MethodPut, "/providers/"+ts.providerID, customer, map[string]any{"city": "Dhaka"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, http.MethodPut, "/providers/"+ts.providerID, ts.provider, map[string]any{"city": "Dhaka"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/providers/"+ts.providerID+"/working-hours", ts.provider, map[string]any{
		"working_hours": []map[string]any{
			{"day_of_week": 1, "start_time": "09:00", "end_time": "11:00"},
			{"day_of_week": 1, "start_time": "10:00", "end_time": "12:00"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/services/"+ts.serviceID, ts.provider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/appointments/available-slots?provider_id="+ts.providerID+"&service_id="+ts.serviceID+"&date="+monday, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/services?provider_id="+ts.providerID+"&active_only=false", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var services []map[string]any
	decode(t, rec, &services)
	assert.Len(t, services, 1)
}

func TestRateLimitedRegistration(t *testing.T) {
	ts := newTestServer(t, Limiters{Register: httpx.NewRateLimiter(1, time.Minute)})
	ts.registerCustomer(t, "c1@example.com")

	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "c2@example.com", "password": "customer-pass", "display_name": "Two",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body httpx.ErrorBody
	decode(t, rec, &body)
	assert.Equal(t, "too many registrations, try again later", body.Error)
}

func TestGuestBookingRateLimit(t *testing.T) {
	ts := newTestServer(t, Limiters{Booking: httpx.NewRateLimiter(1, time.Minute)})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	guest := func(start string) *httptest.ResponseRecorder {
		return ts.do(t, http.MethodPost, "/appointments", "", map[string]any{
			"provider_id": ts.providerID, "service_id": ts.serviceID, "date": monday, "start_time": start,
			"guest_name": "Gail", "guest_email": "gail@example.com",
		})
	}

	rec := guest("09:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = guest("10:00")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body httpx.ErrorBody
	decode(t, rec, &body)
	assert.Equal(t, "too many guest bookings, try again later", body.Error)

	for _, start := range []string{"10:00", "11:00"} {
		rec = ts.book(t, customer, start)
		assert.Equal(t, http.StatusCreated, rec.Code, "authenticated bookings are not limited: %s", rec.Body.String())
	}
}

func TestMalformedIDs(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	ts.seedProvider(t, "09:00", "12:00")
	customer := ts.registerCustomer(t, "c1@example.com")

	for _, path := range []string{
		"/providers/not-a-uuid",
		"/providers/not-a-uuid/working-hours",
		"/services/not-a-uuid",
		"/appointments/not-a-uuid",
	} {
		rec := ts.do(t, http.MethodGet, path, ts.admin, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := ts.do(t, http.MethodDelete, "/appointments/not-a-uuid", customer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodPost, "/admin/users/not-a-uuid/deactivate", ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, path := range []string{
		"/appointments?provider_id=not-a-uuid",
		"/appointments?customer_id=42",
		"/services?provider_id=not-a-uuid",
	} {
		rec := ts.do(t, http.MethodGet, path, ts.admin, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		var body httpx.ErrorBody
		decode(t, rec, &body)
		assert.Contains(t, fmt.Sprint(body.Details), "uuid", path)
	}
}

func TestRegisterPasswordByteLimit(t *testing.T) {
	ts := newTestServer(t, Limiters{})
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "c1@example.com", "password": strings.Repeat("密", 30), "display_name": "One",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var body httpx.ErrorBody
	decode(t, rec, &body)
	assert.Contains(t, fmt.Sprint(body.Details), "password")
}
