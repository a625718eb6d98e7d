// Package handlers is the HTTP surface: it decodes requests, calls the core
// services and maps their errors onto status codes.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
)

// Limiters holds one limiter per rate-limit class. Nil limiters disable the class.
type Limiters struct {
	Login    httpx.Limiter
	Register httpx.Limiter
	Booking  httpx.Limiter
	Read     httpx.Limiter
	FailOpen bool
	// TrustProxy keys clients by X-Forwarded-For instead of the peer address.
	TrustProxy bool
}

type Deps struct {
	Identity     *identity.Service
	Catalog      *catalog.Service
	Engine       *availability.Engine
	Booking      *booking.Coordinator
	Appointments *appointments.Service
	Limiters     Limiters
	Logger       *slog.Logger
}

type handler struct {
	Deps
}

// NewRouter registers every endpoint on a fresh mux.
func NewRouter(d Deps) *http.ServeMux {
	h := &handler{Deps: d}
	mux := http.NewServeMux()

	login := h.limit("login", d.Limiters.Login, "too many login attempts, try again later", nil)
	register := h.limit("register", d.Limiters.Register, "too many registrations, try again later", nil)
	read := h.limit("read", d.Limiters.Read, "too many requests, try again later", nil)
	guestBooking := h.limit("booking", d.Limiters.Booking, "too many guest bookings, try again later", isAuthenticated)

	// auth
	mux.Handle("POST /auth/register", register(http.HandlerFunc(h.register)))
	mux.Handle("POST /auth/login", login(http.HandlerFunc(h.login)))
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.Handle("GET /auth/me", h.authenticate(http.HandlerFunc(h.me)))

	// catalog
	mux.Handle("GET /providers", read(http.HandlerFunc(h.listProviders)))
	mux.Handle("GET /providers/{id}", withID(read(http.HandlerFunc(h.getProvider))))
	mux.Handle("PUT /providers/{id}", withID(h.authenticate(http.HandlerFunc(h.updateProvider))))
	mux.Handle("GET /providers/{id}/working-hours", withID(read(http.HandlerFunc(h.listWorkingHours))))
	mux.Handle("PUT /providers/{id}/working-hours", withID(h.authenticate(http.HandlerFunc(h.replaceWorkingHours))))
	mux.Handle("GET /services", read(http.HandlerFunc(h.listServices)))
	mux.Handle("GET /services/{id}", withID(read(http.HandlerFunc(h.getService))))
	mux.Handle("POST /services", h.authenticate(http.HandlerFunc(h.createService)))
	mux.Handle("PUT /services/{id}", withID(h.authenticate(http.HandlerFunc(h.updateService))))
	mux.Handle("DELETE /services/{id}", withID(h.authenticate(http.HandlerFunc(h.deleteService))))

	// appointments
	mux.Handle("GET /appointments/available-slots", read(http.HandlerFunc(h.availableSlots)))
	mux.Handle("GET /appointments", h.authenticate(read(http.HandlerFunc(h.listAppointments))))
	mux.Handle("POST /appointments", h.authenticate(guestBooking(http.HandlerFunc(h.createAppointment))))
	mux.Handle("GET /appointments/{id}", withID(h.authenticate(read(http.HandlerFunc(h.getAppointment)))))
	mux.Handle("PUT /appointments/{id}", withID(h.authenticate(http.HandlerFunc(h.updateAppointment))))
	mux.Handle("DELETE /appointments/{id}", withID(h.authenticate(http.HandlerFunc(h.cancelAppointment))))

	// admin
	mux.Handle("GET /admin/users", h.authenticate(http.HandlerFunc(h.listUsers)))
	mux.Handle("POST /admin/users/{id}/deactivate", withID(h.authenticate(http.HandlerFunc(h.deactivateUser))))

	return mux
}

// authenticate resolves a bearer token into a principal on the request
// context. Requests without a token pass through anonymously; a malformed or
// invalid token is rejected.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid authorization header", nil)
			return
		}
		p, err := h.Identity.Resolve(r.Context(), strings.TrimSpace(token))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
	})
}

// withID answers 404 for a path id that is not a UUID, so it never reaches a
// uuid column.
func withID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uuid.Validate(r.PathValue("id")) != nil {
			httpx.WriteError(w, http.StatusNotFound, "not found", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) limit(class string, l httpx.Limiter, msg string, skip func(*http.Request) bool) httpx.Middleware {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return httpx.RateLimit(l, httpx.RateLimitOptions{
		Prefix:     class,
		Message:    msg,
		Skip:       skip,
		FailOpen:   h.Limiters.FailOpen,
		TrustProxy: h.Limiters.TrustProxy,
		Logger:     h.Logger,
	})
}

func isAuthenticated(r *http.Request) bool {
	return identity.PrincipalFrom(r.Context()) != nil
}
