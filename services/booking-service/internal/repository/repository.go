// Package repository declares the persistence contracts shared by the
// postgres and in-memory stores.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when an insert or update would overlap another
	// active appointment of the same provider.
	ErrConflict = errors.New("overlapping appointment")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Offset int
	Limit  int
}

// Normalize applies the default page size and the hard cap.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

type UserFilter struct {
	Role   model.Role
	Search string
	Page
}

type ProviderFilter struct {
	City           string
	Specialization string
	Search         string
	ActiveOnly     bool
	VerifiedOnly   bool
	Page
}

type ServiceFilter struct {
	ProviderID string
	Category   string
	Search     string
	ActiveOnly bool
	Page
}

// AppointmentFilter narrows appointment listings. Zero values mean "any".
type AppointmentFilter struct {
	ProviderID string
	CustomerID string
	Status     model.AppointmentStatus
	From       model.Date
	To         model.Date
	Page
}

type Users interface {
	CreateUser(ctx context.Context, u model.User) error
	// CreateProviderUser stores the user and its provider profile atomically.
	CreateProviderUser(ctx context.Context, u model.User, p model.Provider) error
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]model.User, error)
	// DeactivateUser also deactivates the user's provider profile, if any.
	DeactivateUser(ctx context.Context, id string) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t model.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	// RevokeRefreshToken returns ErrNotFound when the token is unknown or
	// already revoked, so only one caller can consume a token.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
}

type Providers interface {
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	GetProviderByUser(ctx context.Context, userID string) (model.Provider, error)
	ListProviders(ctx context.Context, f ProviderFilter) ([]model.Provider, error)
	UpdateProvider(ctx context.Context, p model.Provider) error
}

type Services interface {
	CreateService(ctx context.Context, s model.Service) error
	GetService(ctx context.Context, id string) (model.Service, error)
	ListServices(ctx context.Context, f ServiceFilter) ([]model.Service, error)
	UpdateService(ctx context.Context, s model.Service) error
}

type WorkingHours interface {
	ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHour, error)
	ReplaceWorkingHours(ctx context.Context, providerID string, hours []model.WorkingHour) error
}

// ScheduleReader reads the state the availability computation depends on.
type ScheduleReader interface {
	WorkingHoursForDay(ctx context.Context, providerID string, day time.Weekday) ([]model.WorkingHour, error)
	// ActiveAppointments returns pending and confirmed appointments on date.
	ActiveAppointments(ctx context.Context, providerID string, date model.Date) ([]model.Appointment, error)
}

// ScheduleTx is a unit of work holding the provider's booking lock.
type ScheduleTx interface {
	ScheduleReader
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	InsertAppointment(ctx context.Context, a model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
}

type Appointments interface {
	ScheduleReader
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	// WithProviderLock runs fn while holding the provider's exclusive booking
	// lock. Writes made through tx are committed only if fn returns nil.
	WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx ScheduleTx) error) error
}

type Store interface {
	Users
	RefreshTokens
	Providers
	Services
	WorkingHours
	Appointments
	Ping(ctx context.Context) error
}
