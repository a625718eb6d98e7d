package availability

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

// Engine computes bookable start times from stored working hours and appointments.
type Engine struct {
	providers repository.Providers
	services  repository.Services
	schedule  repository.ScheduleReader
	loc       *time.Location
	now       func() time.Time
}

func NewEngine(providers repository.Providers, services repository.Services, schedule repository.ScheduleReader, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		providers: providers,
		services:  services,
		schedule:  schedule,
		loc:       loc,
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) Today() model.Date {
	return model.DateOf(e.Now())
}

type Query struct {
	ProviderID string
	ServiceID  string
	Date       model.Date
}

// AvailableSlots returns the ordered start times bookable for q.
func (e *Engine) AvailableSlots(ctx context.Context, q Query) ([]model.Clock, error) {
	_, svc, err := e.Resolve(ctx, q.ProviderID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	notBefore, err := e.NotBefore(q.Date)
	if err != nil {
		return nil, err
	}

	hours, err := e.schedule.WorkingHoursForDay(ctx, q.ProviderID, q.Date.Weekday())
	if err != nil {
		return nil, apperr.Internal("load working hours", err)
	}
	windows := WorkingWindows(hours)
	if len(windows) == 0 {
		return []model.Clock{}, nil
	}

	appts, err := e.schedule.ActiveAppointments(ctx, q.ProviderID, q.Date)
	if err != nil {
		return nil, apperr.Internal("load appointments", err)
	}
	return AvailableSlots(windows, svc.DurationMinutes, BusyIntervals(appts, ""), notBefore), nil
}

// Resolve loads the provider and service and checks that both are active and
// that the service belongs to the provider.
func (e *Engine) Resolve(ctx context.Context, providerID, serviceID string) (model.Provider, model.Service, error) {
	provider, err := e.providers.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Provider{}, model.Service{}, apperr.NotFound("provider not found")
		}
		return model.Provider{}, model.Service{}, apperr.Internal("load provider", err)
	}
	svc, err := e.services.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Provider{}, model.Service{}, apperr.NotFound("service not found")
		}
		return model.Provider{}, model.Service{}, apperr.Internal("load service", err)
	}
	if svc.ProviderID != provider.ID {
		return model.Provider{}, model.Service{}, apperr.Validation("service does not belong to provider",
			apperr.FieldError{Field: "service_id", Rule: "provider_mismatch"})
	}
	if !provider.Active {
		return model.Provider{}, model.Service{}, apperr.Field("provider_id", "inactive")
	}
	if !svc.Active {
		return model.Provider{}, model.Service{}, apperr.Field("service_id", "inactive")
	}
	return provider, svc, nil
}

// NotBefore returns the earliest start allowed on date: 00:00 for future days,
// the current minute (rounded up) for today. Past days are rejected.
func (e *Engine) NotBefore(date model.Date) (model.Clock, error) {
	now := e.Now()
	today := model.DateOf(now)
	switch {
	case date.Before(today):
		return 0, apperr.Field("date", "past")
	case date == today:
		c := model.ClockOf(now)
		if now.Second() > 0 || now.Nanosecond() > 0 {
			c++
		}
		return c, nil
	default:
		return 0, nil
	}
}

// CheckFits re-runs the overlap test for [start, start+duration) against the
// state visible through r, ignoring the appointment excludeID.
func (e *Engine) CheckFits(ctx context.Context, r repository.ScheduleReader, providerID string, date model.Date, start model.Clock, duration int, excludeID string) error {
	hours, err := r.WorkingHoursForDay(ctx, providerID, date.Weekday())
	if err != nil {
		return apperr.Internal("load working hours", err)
	}
	appts, err := r.ActiveAppointments(ctx, providerID, date)
	if err != nil {
		return apperr.Internal("load appointments", err)
	}
	if !Fits(WorkingWindows(hours), BusyIntervals(appts, excludeID), start, duration) {
		return apperr.Conflict("time slot is not available")
	}
	return nil
}
