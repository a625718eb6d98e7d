// Package appointments lists, reads and mutates booked appointments with
// role-based filtering.
package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/validate"
)

const DefaultWriteTimeout = 10 * time.Second

type Service struct {
	engine       *availability.Engine
	store        repository.Appointments
	emitter      *events.Emitter
	logger       *slog.Logger
	writeTimeout time.Duration
}

func NewService(engine *availability.Engine, store repository.Appointments, emitter *events.Emitter, logger *slog.Logger) *Service {
	return &Service{
		engine:       engine,
		store:        store,
		emitter:      emitter,
		logger:       logger,
		writeTimeout: DefaultWriteTimeout,
	}
}

// List returns the appointments visible to p. Customers see their own rows,
// providers the rows of their calendar, managers and admins everything.
func (s *Service) List(ctx context.Context, p *identity.Principal, f repository.AppointmentFilter) ([]model.Appointment, error) {
	if p == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Field("status", "oneof")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperr.Field("date_to", "gtefield")
	}

	switch p.Role {
	case model.RoleCustomer:
		if f.CustomerID != "" && f.CustomerID != p.UserID {
			return nil, apperr.Forbidden("insufficient permissions")
		}
		f.CustomerID = p.UserID
	case model.RoleProvider:
		if p.ProviderID == "" {
			return []model.Appointment{}, nil
		}
		if f.ProviderID != "" && f.ProviderID != p.ProviderID {
			return nil, apperr.Forbidden("insufficient permissions")
		}
		f.ProviderID = p.ProviderID
	default:
		if err := identity.Authorize(p, identity.ListAllAppointments, identity.Resource{}); err != nil {
			return nil, err
		}
	}

	f.Page = f.Page.Normalize()
	items, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list appointments", err)
	}
	if items == nil {
		items = []model.Appointment{}
	}
	return items, nil
}

// Get returns one appointment. Guest appointments are readable by anyone who
// holds the id.
func (s *Service) Get(ctx context.Context, p *identity.Principal, id string) (model.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if a.IsGuest() {
		return a, nil
	}
	if err := identity.Authorize(p, identity.ReadAppointment, resourceOf(a)); err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

// Update carries the mutable fields of an appointment. Nil fields are left
// unchanged; Date and StartTime together describe a reschedule.
type Update struct {
	Status        *string `json:"status,omitempty" validate:"omitempty,oneof=pending confirmed cancelled completed no_show"`
	Date          *string `json:"date,omitempty" validate:"omitempty,date"`
	StartTime     *string `json:"start_time,omitempty" validate:"omitempty,clock"`
	Notes         *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	PaymentStatus *string `json:"payment_status,omitempty" validate:"omitempty,oneof=pending paid refunded"`
}

func (u Update) empty() bool {
	return u.Status == nil && u.Date == nil && u.StartTime == nil && u.Notes == nil && u.PaymentStatus == nil
}

func (u Update) reschedules() bool {
	return u.Date != nil || u.StartTime != nil
}

// Update applies in to the appointment under the provider lock. A reschedule
// re-runs the overlap check against the new interval and leaves the row
// untouched on conflict.
func (s *Service) Update(ctx context.Context, p *identity.Principal, id string, in Update) (model.Appointment, error) {
	ctx, span := otelx.Start(ctx, "appointments.Update", attribute.String("appointment_id", id))
	a, err := s.update(ctx, p, id, in)
	otelx.Finish(span, err)
	return a, err
}

func (s *Service) update(ctx context.Context, p *identity.Principal, id string, in Update) (model.Appointment, error) {
	if p == nil {
		return model.Appointment{}, apperr.Unauthenticated("authentication required")
	}
	in = trimUpdate(in)
	if err := validate.Struct(in); err != nil {
		return model.Appointment{}, err
	}
	if in.empty() {
		return model.Appointment{}, apperr.Validation("no fields to update")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.authorizeUpdate(p, current, in); err != nil {
		return model.Appointment{}, err
	}

	lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	var before, after model.Appointment
	err = s.store.WithProviderLock(lockCtx, current.ProviderID, func(ctx context.Context, tx repository.ScheduleTx) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		before = a
		next, err := s.apply(p, a, in)
		if err != nil {
			return err
		}
		if next.Status.Holding() && (next.Date != a.Date || next.Start != a.Start || !a.Status.Holding()) {
			if err := s.engine.CheckFits(ctx, tx, next.ProviderID, next.Date, next.Start, next.DurationMinutes, next.ID); err != nil {
				return err
			}
		}
		next.UpdatedAt = s.engine.Now().UTC()
		after = next
		return tx.UpdateAppointment(ctx, next)
	})
	if err != nil {
		return model.Appointment{}, mapStoreError(err, "update appointment")
	}

	s.emitChanges(ctx, p, before, after)
	return after, nil
}

// Cancel sets the status to cancelled. The row is kept.
func (s *Service) Cancel(ctx context.Context, p *identity.Principal, id string) (model.Appointment, error) {
	status := string(model.StatusCancelled)
	return s.Update(ctx, p, id, Update{Status: &status})
}

func (s *Service) authorizeUpdate(p *identity.Principal, a model.Appointment, in Update) error {
	res := resourceOf(a)
	if p.Role != model.RoleCustomer {
		return identity.Authorize(p, identity.MutateAppointment, res)
	}

	if in.reschedules() || in.PaymentStatus != nil {
		return apperr.Forbidden("customers cannot reschedule or change payment")
	}
	if in.Status != nil {
		if model.AppointmentStatus(*in.Status) != model.StatusCancelled {
			return apperr.Forbidden("customers can only cancel")
		}
		if err := identity.Authorize(p, identity.CancelAppointment, res); err != nil {
			return err
		}
		if !s.engine.Now().Before(a.StartsAt(s.engine.Location())) {
			return apperr.Forbidden("appointment has already started")
		}
	}
	return identity.Authorize(p, identity.ReadAppointment, res)
}

// apply computes the updated row. Duration and price are never touched.
func (s *Service) apply(p *identity.Principal, a model.Appointment, in Update) (model.Appointment, error) {
	next := a

	if in.Status != nil {
		to := model.AppointmentStatus(*in.Status)
		if to != a.Status {
			if !model.CanTransition(a.Status, to) {
				return a, apperr.Validation("invalid status transition",
					apperr.FieldError{Field: "status", Rule: "transition"})
			}
			if (to == model.StatusCompleted || to == model.StatusNoShow) && s.engine.Now().Before(a.StartsAt(s.engine.Location())) {
				return a, apperr.Field("status", "not_started")
			}
			next.Status = to
		}
	}

	if in.reschedules() {
		if !next.Status.Holding() {
			return a, apperr.Field("status", "not_active")
		}
		if in.Date != nil {
			next.Date, _ = model.ParseDate(*in.Date)
		}
		if in.StartTime != nil {
			next.Start, _ = model.ParseClock(*in.StartTime)
		}
		if next.Date != a.Date || next.Start != a.Start {
			if next.Start >= model.EndOfDay {
				return a, apperr.Field("start_time", "range")
			}
			if !availability.OnGrid(next.Start) {
				return a, apperr.Field("start_time", "grid")
			}
			notBefore, err := s.engine.NotBefore(next.Date)
			if err != nil {
				return a, err
			}
			if next.Start < notBefore {
				return a, apperr.Field("start_time", "past")
			}
		}
	}

	if in.Notes != nil {
		next.Notes = *in.Notes
	}

	if in.PaymentStatus != nil {
		to := model.PaymentStatus(*in.PaymentStatus)
		if to != a.PaymentStatus {
			if !p.Role.ManagesBookings() {
				return a, apperr.Forbidden("insufficient permissions")
			}
			if !model.CanTransitionPayment(a.PaymentStatus, to) {
				return a, apperr.Validation("invalid payment transition",
					apperr.FieldError{Field: "payment_status", Rule: "transition"})
			}
			next.PaymentStatus = to
		}
	}
	return next, nil
}

func (s *Service) emitChanges(ctx context.Context, p *identity.Principal, before, after model.Appointment) {
	base := events.Event{
		AppointmentID: after.ID,
		ProviderID:    after.ProviderID,
		ServiceID:     after.ServiceID,
		CustomerID:    after.CustomerID(),
		Guest:         after.IsGuest(),
		Date:          after.Date.String(),
		StartTime:     after.Start.String(),
		Status:        string(after.Status),
		ActorID:       p.UserID,
	}
	if before.Status != after.Status {
		evt := base
		evt.Type = events.AppointmentStatusChanged
		evt.PreviousStatus = string(before.Status)
		s.emitter.Emit(ctx, evt)
	}
	if before.Date != after.Date || before.Start != after.Start {
		evt := base
		evt.Type = events.AppointmentRescheduled
		s.emitter.Emit(ctx, evt)
	}
}

func (s *Service) load(ctx context.Context, id string) (model.Appointment, error) {
	a, err := s.store.GetAppointment(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Appointment{}, apperr.NotFound("appointment not found")
		}
		return model.Appointment{}, apperr.Internal("load appointment", err)
	}
	return a, nil
}

func resourceOf(a model.Appointment) identity.Resource {
	return identity.Resource{ProviderID: a.ProviderID, CustomerID: a.CustomerID()}
}

func mapStoreError(err error, op string) error {
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

func trimUpdate(in Update) Update {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		t := strings.TrimSpace(*s)
		return &t
	}
	in.Status = trim(in.Status)
	in.Date = trim(in.Date)
	in.StartTime = trim(in.StartTime)
	in.Notes = trim(in.Notes)
	in.PaymentStatus = trim(in.PaymentStatus)
	return in
}
