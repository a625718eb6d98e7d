package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	owner    *identity.Principal
	stranger *identity.Principal
	admin    *identity.Principal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	mk := func(name string) *identity.Principal {
		userID, providerID := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.CreateProviderUser(ctx,
			model.User{ID: userID, Email: name + "@example.com", Role: model.RoleProvider, DisplayName: name, Active: true},
			model.Provider{ID: providerID, UserID: userID, BusinessName: name, Active: true},
		))
		return &identity.Principal{UserID: userID, Role: model.RoleProvider, ProviderID: providerID}
	}
	return fixture{
		svc:      NewService(store, slog.New(slog.NewJSONHandler(io.Discard, nil))),
		store:    store,
		owner:    mk("owner"),
		stranger: mk("stranger"),
		admin:    &identity.Principal{UserID: uuid.NewString(), Role: model.RoleAdmin},
	}
}

func TestCreateServiceDefaultsToOwnCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc, err := f.svc.CreateService(ctx, f.owner, ServiceInput{Name: " Haircut ", DurationMinutes: 60, Price: 150})
	require.NoError(t, err)
	assert.Equal(t, f.owner.ProviderID, svc.ProviderID)
	assert.Equal(t, "Haircut", svc.Name)
	assert.True(t, svc.Active)

	_, err = f.svc.CreateService(ctx, f.stranger, ServiceInput{ProviderID: f.owner.ProviderID, Name: "x", DurationMinutes: 30})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.CreateService(ctx, f.admin, ServiceInput{Name: "x", DurationMinutes: 30})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	customer := &identity.Principal{UserID: uuid.NewString(), Role: model.RoleCustomer}
	_, err = f.svc.CreateService(ctx, customer, ServiceInput{ProviderID: f.owner.ProviderID, Name: "x", DurationMinutes: 30})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestCreateServiceValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateService(context.Background(), f.owner, ServiceInput{Name: "", DurationMinutes: 481, Price: -1})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.ElementsMatch(t, []apperr.FieldError{
		{Field: "name", Rule: "required"},
		{Field: "duration_minutes", Rule: "range"},
		{Field: "price", Rule: "min"},
	}, ae.Details)
}

func TestUpdateAndDeactivateService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, err := f.svc.CreateService(ctx, f.owner, ServiceInput{Name: "Cut", DurationMinutes: 60, Price: 100})
	require.NoError(t, err)

	price := 120.0
	updated, err := f.svc.UpdateService(ctx, f.admin, svc.ID, ServiceUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 120.0, updated.Price)
	assert.Equal(t, 60, updated.DurationMinutes)

	_, err = f.svc.DeactivateService(ctx, f.stranger, svc.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	gone, err := f.svc.DeactivateService(ctx, f.owner, svc.ID)
	require.NoError(t, err)
	assert.False(t, gone.Active)

	// Still readable by id; excluded from active listings.
	_, err = f.svc.GetService(ctx, svc.ID)
	require.NoError(t, err)
	active, err := f.svc.ListServices(ctx, repository.ServiceFilter{ProviderID: f.owner.ProviderID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.svc.GetService(ctx, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReplaceWorkingHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hours, err := f.svc.ReplaceWorkingHours(ctx, f.owner, f.owner.ProviderID, []WorkingHourInput{
		{DayOfWeek: 1, Start: 780, End: 1020, Available: true},
		{DayOfWeek: 1, Start: 540, End: 720, Available: true},
		{DayOfWeek: 2, Start: 540, End: 720, Available: false},
	})
	require.NoError(t, err)
	require.Len(t, hours, 3)
	assert.Equal(t, model.Clock(540), hours[0].Start)

	_, err = f.svc.ReplaceWorkingHours(ctx, f.owner, f.owner.ProviderID, []WorkingHourInput{
		{DayOfWeek: 1, Start: 540, End: 720, Available: true},
		{DayOfWeek: 1, Start: 700, End: 800, Available: true},
	})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "overlap", ae.Details[0].Rule)

	_, err = f.svc.ReplaceWorkingHours(ctx, f.owner, f.owner.ProviderID, []WorkingHourInput{
		{DayOfWeek: 7, Start: 540, End: 500},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.ReplaceWorkingHours(ctx, f.stranger, f.owner.ProviderID, nil)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	stored, err := f.svc.ListWorkingHours(ctx, f.owner.ProviderID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestGetProviderDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateService(ctx, f.owner, ServiceInput{Name: "Cut", DurationMinutes: 30})
	require.NoError(t, err)

	detail, err := f.svc.GetProvider(ctx, f.owner.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, "owner", detail.BusinessName)
	assert.Equal(t, "owner", detail.OwnerName)
	assert.Len(t, detail.Services, 1)

	_, err = f.svc.GetProvider(ctx, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	city := " Austin "
	p, err := f.svc.UpdateProvider(ctx, f.owner, f.owner.ProviderID, ProviderUpdate{City: &city})
	require.NoError(t, err)
	assert.Equal(t, "Austin", p.City)

	empty := ""
	_, err = f.svc.UpdateProvider(ctx, f.owner, f.owner.ProviderID, ProviderUpdate{BusinessName: &empty})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.UpdateProvider(ctx, f.stranger, f.owner.ProviderID, ProviderUpdate{City: &city})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}
