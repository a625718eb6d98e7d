package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

type appointmentResponse struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	ServiceID       string    `json:"service_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	GuestName       string    `json:"guest_name,omitempty"`
	GuestEmail      string    `json:"guest_email,omitempty"`
	GuestPhone      string    `json:"guest_phone,omitempty"`
	IsGuest         bool      `json:"is_guest"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	PriceSnapshot   float64   `json:"price_snapshot"`
	PaymentStatus   string    `json:"payment_status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		Date:            a.Date.String(),
		StartTime:       a.Start.String(),
		EndTime:         a.End().String(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		PriceSnapshot:   a.PriceSnapshot,
		PaymentStatus:   string(a.PaymentStatus),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	switch b := a.Bookee.(type) {
	case model.Registered:
		resp.CustomerID = b.UserID
	case model.Guest:
		resp.IsGuest = true
		resp.GuestName = b.Name
		resp.GuestEmail = b.Email
		resp.GuestPhone = b.Phone
	}
	return resp
}

func (h *handler) availableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))

	var details []apperr.FieldError
	if uuid.Validate(providerID) != nil {
		details = append(details, apperr.FieldError{Field: "provider_id", Rule: "uuid"})
	}
	if uuid.Validate(serviceID) != nil {
		details = append(details, apperr.FieldError{Field: "service_id", Rule: "uuid"})
	}
	date, err := model.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		details = append(details, apperr.FieldError{Field: "date", Rule: "date"})
	}
	if len(details) > 0 {
		h.writeError(w, r, apperr.Validation("invalid request", details...))
		return
	}

	slots, err := h.Engine.AvailableSlots(r.Context(), availability.Query{ProviderID: providerID, ServiceID: serviceID, Date: date})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := dateFromQuery(q, "date_from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := dateFromQuery(q, "date_to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	providerID, err := uuidFromQuery(q, "provider_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	customerID, err := uuidFromQuery(q, "customer_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Appointments.List(r.Context(), identity.PrincipalFrom(r.Context()), repository.AppointmentFilter{
		ProviderID: providerID,
		CustomerID: customerID,
		Status:     model.AppointmentStatus(strings.TrimSpace(q.Get("status"))),
		From:       from,
		To:         to,
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]appointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Booking.Book(r.Context(), identity.PrincipalFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toAppointmentResponse(res.Appointment))
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Appointments.Get(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handler) updateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointments.Update
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Appointments.Update(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Appointments.Cancel(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(a))
}
