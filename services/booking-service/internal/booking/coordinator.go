// Package booking creates appointments without double-booking a provider.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/validate"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	// DuplicateWindow bounds how old an identical booking may be and still be
	// returned instead of a conflict.
	DuplicateWindow = 10 * time.Minute
)

type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	repository.Appointments
}

type Coordinator struct {
	engine       *availability.Engine
	store        Store
	emitter      *events.Emitter
	notifier     *notify.Notifier
	logger       *slog.Logger
	writeTimeout time.Duration
}

func NewCoordinator(engine *availability.Engine, store Store, emitter *events.Emitter, notifier *notify.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		engine:       engine,
		store:        store,
		emitter:      emitter,
		notifier:     notifier,
		logger:       logger,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Request is a booking request. Either CustomerID (staff booking for a
// registered customer) or the guest fields identify who the booking is for;
// customers always book for themselves.
type Request struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
	ServiceID  string `json:"service_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,date"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	CustomerID string `json:"customer_id,omitempty" validate:"omitempty,uuid"`
	GuestName  string `json:"guest_name,omitempty" validate:"omitempty,max=200"`
	GuestEmail string `json:"guest_email,omitempty" validate:"omitempty,email,max=254"`
	GuestPhone string `json:"guest_phone,omitempty" validate:"omitempty,max=32"`
	Notes      string `json:"notes,omitempty" validate:"max=1000"`
}

// Result carries the booked appointment. Created is false when an identical
// recent booking by the same customer was returned instead.
type Result struct {
	Appointment model.Appointment
	Created     bool
}

// Book validates, authorizes and persists a booking. The overlap check and
// the insert run under the provider's lock on a context detached from the
// caller so a started write always completes or rolls back.
func (c *Coordinator) Book(ctx context.Context, principal *identity.Principal, req Request) (Result, error) {
	ctx, span := otelx.Start(ctx, "booking.Book",
		attribute.String("provider_id", req.ProviderID),
		attribute.String("date", req.Date),
		attribute.String("start_time", req.StartTime),
	)
	res, err := c.book(ctx, principal, req)
	if err == nil {
		span.SetAttributes(attribute.String("appointment_id", res.Appointment.ID), attribute.Bool("created", res.Created))
	}
	otelx.Finish(span, err)
	return res, err
}

func (c *Coordinator) book(ctx context.Context, principal *identity.Principal, req Request) (Result, error) {
	req = trimRequest(req)
	if err := validate.Struct(req); err != nil {
		return Result{}, err
	}
	date, _ := model.ParseDate(req.Date)
	start, _ := model.ParseClock(req.StartTime)
	if start >= model.EndOfDay {
		return Result{}, apperr.Field("start_time", "range")
	}
	if !availability.OnGrid(start) {
		return Result{}, apperr.Field("start_time", "grid")
	}

	bookee, contact, err := c.resolveBookee(ctx, principal, req)
	if err != nil {
		return Result{}, err
	}

	provider, svc, err := c.engine.Resolve(ctx, req.ProviderID, req.ServiceID)
	if err != nil {
		return Result{}, err
	}

	if principal != nil {
		res := identity.Resource{ProviderID: provider.ID}
		if r, ok := bookee.(model.Registered); ok {
			res.CustomerID = r.UserID
		}
		if err := identity.Authorize(principal, identity.CreateAppointment, res); err != nil {
			return Result{}, err
		}
	}

	notBefore, err := c.engine.NotBefore(date)
	if err != nil {
		return Result{}, err
	}
	if start < notBefore {
		return Result{}, apperr.Field("start_time", "past")
	}

	status := model.StatusPending
	if principal != nil && principal.Role.ManagesBookings() {
		status = model.StatusConfirmed
	}
	now := c.engine.Now().UTC()
	appt := model.Appointment{
		ID:              uuid.NewString(),
		ProviderID:      provider.ID,
		ServiceID:       svc.ID,
		Bookee:          bookee,
		Date:            date,
		Start:           start,
		DurationMinutes: svc.DurationMinutes,
		Status:          status,
		PriceSnapshot:   svc.Price,
		PaymentStatus:   model.PaymentPending,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()

	var existing *model.Appointment
	err = c.store.WithProviderLock(lockCtx, provider.ID, func(ctx context.Context, tx repository.ScheduleTx) error {
		if customerID := appt.CustomerID(); customerID != "" {
			dup, err := findDuplicate(ctx, tx, appt, now)
			if err != nil {
				return err
			}
			if dup != nil {
				existing = dup
				return nil
			}
		}
		if err := c.engine.CheckFits(ctx, tx, provider.ID, date, start, appt.DurationMinutes, ""); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, appt)
	})
	if err != nil {
		return Result{}, mapWriteError(err, "book appointment")
	}
	if existing != nil {
		c.logger.Info("duplicate booking collapsed", "appointment_id", existing.ID, "provider_id", provider.ID)
		return Result{Appointment: *existing}, nil
	}

	actor := ""
	if principal != nil {
		actor = principal.UserID
	}
	c.emitter.Emit(ctx, events.Event{
		Type:          events.AppointmentCreated,
		AppointmentID: appt.ID,
		ProviderID:    appt.ProviderID,
		ServiceID:     appt.ServiceID,
		CustomerID:    appt.CustomerID(),
		Guest:         appt.IsGuest(),
		Date:          appt.Date.String(),
		StartTime:     appt.Start.String(),
		Status:        string(appt.Status),
		ActorID:       actor,
	})
	c.notifier.BookingConfirmation(notify.Booking{
		To:            contact.email,
		Name:          contact.name,
		BusinessName:  provider.BusinessName,
		ServiceName:   svc.Name,
		Date:          appt.Date.String(),
		StartTime:     appt.Start.String(),
		Status:        string(appt.Status),
		AppointmentID: appt.ID,
	})
	return Result{Appointment: appt, Created: true}, nil
}

type contact struct {
	name  string
	email string
}

func (c *Coordinator) resolveBookee(ctx context.Context, principal *identity.Principal, req Request) (model.Bookee, contact, error) {
	guest := func() (model.Bookee, contact, error) {
		var details []apperr.FieldError
		if req.GuestName == "" {
			details = append(details, apperr.FieldError{Field: "guest_name", Rule: "required"})
		}
		if req.GuestEmail == "" {
			details = append(details, apperr.FieldError{Field: "guest_email", Rule: "required"})
		}
		if len(details) > 0 {
			return nil, contact{}, apperr.Validation("guest contact required", details...)
		}
		return model.Guest{Name: req.GuestName, Email: req.GuestEmail, Phone: req.GuestPhone}, contact{name: req.GuestName, email: req.GuestEmail}, nil
	}

	switch {
	case principal == nil:
		if req.CustomerID != "" {
			return nil, contact{}, apperr.Unauthenticated("authentication required to book for a customer")
		}
		return guest()
	case principal.Role == model.RoleCustomer:
		if req.CustomerID != "" && req.CustomerID != principal.UserID {
			return nil, contact{}, apperr.Forbidden("customers can only book for themselves")
		}
		u, err := c.customer(ctx, principal.UserID)
		if err != nil {
			return nil, contact{}, err
		}
		return model.Registered{UserID: u.ID}, contact{name: u.DisplayName, email: u.Email}, nil
	case req.CustomerID != "":
		u, err := c.customer(ctx, req.CustomerID)
		if err != nil {
			return nil, contact{}, err
		}
		return model.Registered{UserID: u.ID}, contact{name: u.DisplayName, email: u.Email}, nil
	default:
		return guest()
	}
}

func (c *Coordinator) customer(ctx context.Context, id string) (model.User, error) {
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound("customer not found")
		}
		return model.User{}, apperr.Internal("load customer", err)
	}
	if !u.Active {
		return model.User{}, apperr.Field("customer_id", "inactive")
	}
	return u, nil
}

// findDuplicate returns an active appointment of the same customer at the same
// slot created within DuplicateWindow, if any.
func findDuplicate(ctx context.Context, tx repository.ScheduleTx, appt model.Appointment, now time.Time) (*model.Appointment, error) {
	active, err := tx.ActiveAppointments(ctx, appt.ProviderID, appt.Date)
	if err != nil {
		return nil, apperr.Internal("load appointments", err)
	}
	for _, a := range active {
		if a.Start != appt.Start || a.CustomerID() != appt.CustomerID() {
			continue
		}
		if now.Sub(a.CreatedAt) <= DuplicateWindow {
			dup := a
			return &dup, nil
		}
	}
	return nil, nil
}

func mapWriteError(err error, op string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, repository.ErrConflict):
		return apperr.Conflict("time slot is not available")
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("appointment not found")
	default:
		return apperr.Internal(op, err)
	}
}

func trimRequest(req Request) Request {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Date = strings.TrimSpace(req.Date)
	req.StartTime = strings.TrimSpace(req.StartTime)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	req.GuestPhone = strings.TrimSpace(req.GuestPhone)
	req.Notes = strings.TrimSpace(req.Notes)
	return req
}
