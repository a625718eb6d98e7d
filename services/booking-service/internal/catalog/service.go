// Package catalog serves providers, their services and weekly working hours.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

type Store interface {
	repository.Providers
	repository.Services
	repository.WorkingHours
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// ProviderDetail is a provider with its active services and weekly schedule.
type ProviderDetail struct {
	model.Provider
	Services     []model.Service     `json:"services"`
	WorkingHours []model.WorkingHour `json:"working_hours"`
}

func (s *Service) ListProviders(ctx context.Context, f repository.ProviderFilter) ([]model.Provider, error) {
	f.Page = f.Page.Normalize()
	providers, err := s.store.ListProviders(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list providers", err)
	}
	return providers, nil
}

func (s *Service) GetProvider(ctx context.Context, id string) (ProviderDetail, error) {
	p, err := s.provider(ctx, id)
	if err != nil {
		return ProviderDetail{}, err
	}
	services, err := s.store.ListServices(ctx, repository.ServiceFilter{
		ProviderID: id,
		ActiveOnly: true,
		Page:       repository.Page{Limit: repository.MaxPageSize},
	})
	if err != nil {
		return ProviderDetail{}, apperr.Internal("list services", err)
	}
	hours, err := s.store.ListWorkingHours(ctx, id)
	if err != nil {
		return ProviderDetail{}, apperr.Internal("list working hours", err)
	}
	return ProviderDetail{Provider: p, Services: services, WorkingHours: hours}, nil
}

// ProviderUpdate holds the profile fields an owner may change. Nil fields are left as is.
type ProviderUpdate struct {
	BusinessName   *string
	Specialization *string
	City           *string
	Address        *string
	Description    *string
}

func (s *Service) UpdateProvider(ctx context.Context, principal *identity.Principal, id string, in ProviderUpdate) (model.Provider, error) {
	p, err := s.provider(ctx, id)
	if err != nil {
		return model.Provider{}, err
	}
	if err := identity.Authorize(principal, identity.ManageCatalog, identity.Resource{ProviderID: id}); err != nil {
		return model.Provider{}, err
	}
	if in.BusinessName != nil {
		name := strings.TrimSpace(*in.BusinessName)
		if name == "" {
			return model.Provider{}, apperr.Field("business_name", "required")
		}
		p.BusinessName = name
	}
	setTrimmed(&p.Specialization, in.Specialization)
	setTrimmed(&p.City, in.City)
	setTrimmed(&p.Address, in.Address)
	setTrimmed(&p.Description, in.Description)
	p.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateProvider(ctx, p); err != nil {
		return model.Provider{}, apperr.Internal("update provider", err)
	}
	return p, nil
}

func (s *Service) ListServices(ctx context.Context, f repository.ServiceFilter) ([]model.Service, error) {
	f.Page = f.Page.Normalize()
	services, err := s.store.ListServices(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list services", err)
	}
	return services, nil
}

func (s *Service) GetService(ctx context.Context, id string) (model.Service, error) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Service{}, apperr.NotFound("service not found")
		}
		return model.Service{}, apperr.Internal("load service", err)
	}
	return svc, nil
}

type ServiceInput struct {
	ProviderID      string
	Name            string
	Description     string
	DurationMinutes int
	Price           float64
	Category        string
}

// CreateService adds a service. Provider principals always create into their
// own catalog; staff must name the provider.
func (s *Service) CreateService(ctx context.Context, principal *identity.Principal, in ServiceInput) (model.Service, error) {
	if principal != nil && principal.Role == model.RoleProvider && in.ProviderID == "" {
		in.ProviderID = principal.ProviderID
	}
	if in.ProviderID == "" {
		return model.Service{}, apperr.Field("provider_id", "required")
	}
	if err := identity.Authorize(principal, identity.ManageCatalog, identity.Resource{ProviderID: in.ProviderID}); err != nil {
		return model.Service{}, err
	}
	if _, err := s.provider(ctx, in.ProviderID); err != nil {
		return model.Service{}, err
	}

	now := s.now().UTC()
	svc := model.Service{
		ID:              uuid.NewString(),
		ProviderID:      in.ProviderID,
		Name:            strings.TrimSpace(in.Name),
		Description:     strings.TrimSpace(in.Description),
		DurationMinutes: in.DurationMinutes,
		Price:           in.Price,
		Category:        strings.TrimSpace(in.Category),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateService(svc); err != nil {
		return model.Service{}, err
	}
	if err := s.store.CreateService(ctx, svc); err != nil {
		return model.Service{}, apperr.Internal("create service", err)
	}
	s.logger.Info("service created", "service_id", svc.ID, "provider_id", svc.ProviderID)
	return svc, nil
}

// ServiceUpdate holds mutable service fields. Nil fields are left as is.
// Duration changes never affect existing appointments.
type ServiceUpdate struct {
	Name            *string
	Description     *string
	DurationMinutes *int
	Price           *float64
	Category        *string
	Active          *bool
}

func (s *Service) UpdateService(ctx context.Context, principal *identity.Principal, id string, in ServiceUpdate) (model.Service, error) {
	svc, err := s.GetService(ctx, id)
	if err != nil {
		return model.Service{}, err
	}
	if err := identity.Authorize(principal, identity.ManageCatalog, identity.Resource{ProviderID: svc.ProviderID}); err != nil {
		return model.Service{}, err
	}
	if in.Name != nil {
		svc.Name = strings.TrimSpace(*in.Name)
	}
	setTrimmed(&svc.Description, in.Description)
	setTrimmed(&svc.Category, in.Category)
	if in.DurationMinutes != nil {
		svc.DurationMinutes = *in.DurationMinutes
	}
	if in.Price != nil {
		svc.Price = *in.Price
	}
	if in.Active != nil {
		svc.Active = *in.Active
	}
	if err := validateService(svc); err != nil {
		return model.Service{}, err
	}
	svc.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateService(ctx, svc); err != nil {
		return model.Service{}, apperr.Internal("update service", err)
	}
	return svc, nil
}

// DeactivateService soft-deletes a service so historical appointments keep their reference.
func (s *Service) DeactivateService(ctx context.Context, principal *identity.Principal, id string) (model.Service, error) {
	inactive := false
	return s.UpdateService(ctx, principal, id, ServiceUpdate{Active: &inactive})
}

func (s *Service) ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHour, error) {
	if _, err := s.provider(ctx, providerID); err != nil {
		return nil, err
	}
	hours, err := s.store.ListWorkingHours(ctx, providerID)
	if err != nil {
		return nil, apperr.Internal("list working hours", err)
	}
	return hours, nil
}

type WorkingHourInput struct {
	DayOfWeek int
	Start     model.Clock
	End       model.Clock
	Available bool
}

// ReplaceWorkingHours swaps the provider's whole weekly schedule.
func (s *Service) ReplaceWorkingHours(ctx context.Context, principal *identity.Principal, providerID string, in []WorkingHourInput) ([]model.WorkingHour, error) {
	if _, err := s.provider(ctx, providerID); err != nil {
		return nil, err
	}
	if err := identity.Authorize(principal, identity.ManageCatalog, identity.Resource{ProviderID: providerID}); err != nil {
		return nil, err
	}
	if err := validateSchedule(in); err != nil {
		return nil, err
	}

	hours := make([]model.WorkingHour, 0, len(in))
	for _, h := range in {
		hours = append(hours, model.WorkingHour{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			DayOfWeek:  h.DayOfWeek,
			Start:      h.Start,
			End:        h.End,
			Available:  h.Available,
		})
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i].DayOfWeek != hours[j].DayOfWeek {
			return hours[i].DayOfWeek < hours[j].DayOfWeek
		}
		return hours[i].Start < hours[j].Start
	})
	if err := s.store.ReplaceWorkingHours(ctx, providerID, hours); err != nil {
		return nil, apperr.Internal("replace working hours", err)
	}
	s.logger.Info("working hours replaced", "provider_id", providerID, "rows", len(hours))
	return hours, nil
}

func (s *Service) provider(ctx context.Context, id string) (model.Provider, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Provider{}, apperr.NotFound("provider not found")
		}
		return model.Provider{}, apperr.Internal("load provider", err)
	}
	return p, nil
}

func validateService(svc model.Service) error {
	var details []apperr.FieldError
	if svc.Name == "" {
		details = append(details, apperr.FieldError{Field: "name", Rule: "required"})
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes > model.MaxServiceDuration {
		details = append(details, apperr.FieldError{Field: "duration_minutes", Rule: "range"})
	}
	if svc.Price < 0 {
		details = append(details, apperr.FieldError{Field: "price", Rule: "min"})
	}
	if len(details) > 0 {
		return apperr.Validation("invalid service", details...)
	}
	return nil
}

// validateSchedule checks each row and rejects overlapping rows on the same day.
// Adjacent rows are allowed and union into one window.
func validateSchedule(in []WorkingHourInput) error {
	var details []apperr.FieldError
	for i, h := range in {
		field := fmt.Sprintf("working_hours[%d]", i)
		if h.DayOfWeek < 0 || h.DayOfWeek > 6 {
			details = append(details, apperr.FieldError{Field: field + ".day_of_week", Rule: "range"})
		}
		if h.Start < 0 || h.End > model.EndOfDay || h.Start >= h.End {
			details = append(details, apperr.FieldError{Field: field + ".end_time", Rule: "gtfield"})
		}
	}
	if len(details) > 0 {
		return apperr.Validation("invalid working hours", details...)
	}
	for i := range in {
		for j := i + 1; j < len(in); j++ {
			a, b := in[i], in[j]
			if a.DayOfWeek == b.DayOfWeek && a.Start < b.End && b.Start < a.End {
				details = append(details, apperr.FieldError{Field: fmt.Sprintf("working_hours[%d]", j), Rule: "overlap"})
			}
		}
	}
	if len(details) > 0 {
		return apperr.Validation("overlapping working hours", details...)
	}
	return nil
}

func setTrimmed(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
