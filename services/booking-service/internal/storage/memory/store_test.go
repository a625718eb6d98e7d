package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

func seedProvider(t *testing.T, s *Store, id, name string, rating float64) {
	t.Helper()
	err := s.CreateProviderUser(context.Background(),
		model.User{ID: "user-" + id, Email: id + "@example.com", Role: model.RoleProvider, DisplayName: "Owner " + name, Active: true},
		model.Provider{ID: id, UserID: "user-" + id, BusinessName: name, City: "Austin", Active: true, RatingAvg: rating},
	)
	require.NoError(t, err)
}

func TestUsersEmailUniqueCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Email: "Ann@Example.com"}))

	err := s.CreateUser(ctx, model.User{ID: "u2", Email: "ann@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	u, err := s.GetUserByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestDeactivateUserDeactivatesProvider(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)

	require.NoError(t, s.DeactivateUser(ctx, "user-p1"))
	u, err := s.GetUser(ctx, "user-p1")
	require.NoError(t, err)
	assert.False(t, u.Active)
	p, err := s.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p.Active)

	assert.ErrorIs(t, s.DeactivateUser(ctx, "missing"), repository.ErrNotFound)
}

func TestRevokeRefreshTokenOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRefreshToken(ctx, model.RefreshToken{ID: "t1", UserID: "u1", Hash: "h1", ExpiresAt: at.Add(time.Hour)}))

	require.NoError(t, s.RevokeRefreshToken(ctx, "t1", at))
	assert.ErrorIs(t, s.RevokeRefreshToken(ctx, "t1", at.Add(time.Minute)), repository.ErrNotFound)
	assert.ErrorIs(t, s.RevokeRefreshToken(ctx, "missing", at), repository.ErrNotFound)

	tok, err := s.GetRefreshTokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, tok.RevokedAt)
	assert.Equal(t, at, *tok.RevokedAt)
}

func TestListProvidersOrderingAndSearch(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Bravo Spa", 4.5)
	seedProvider(t, s, "p2", "Alpha Salon", 4.5)
	seedProvider(t, s, "p3", "Clinic", 4.9)

	got, err := s.ListProviders(ctx, repository.ProviderFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"p3", "p2", "p1"}, []string{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.ListProviders(ctx, repository.ProviderFilter{Search: "owner bravo"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "Owner Bravo Spa", got[0].OwnerName)

	got, err = s.ListProviders(ctx, repository.ProviderFilter{Page: repository.Page{Offset: 2, Limit: 5}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func appt(id string, start model.Clock, status model.AppointmentStatus) model.Appointment {
	return model.Appointment{
		ID:              id,
		ProviderID:      "p1",
		ServiceID:       "s1",
		Bookee:          model.Guest{Name: "G", Email: "g@example.com"},
		Date:            model.Date{Year: 2025, Month: time.January, Day: 6},
		Start:           start,
		DurationMinutes: 60,
		Status:          status,
		PaymentStatus:   model.PaymentPending,
	}
}

func TestWithProviderLockCommitsOnSuccessOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)

	boom := errors.New("boom")
	err := s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
		require.NoError(t, tx.InsertAppointment(ctx, appt("a1", 600, model.StatusPending)))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.GetAppointment(ctx, "a1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
		if err := tx.InsertAppointment(ctx, appt("a1", 600, model.StatusPending)); err != nil {
			return err
		}
		active, err := tx.ActiveAppointments(ctx, "p1", appt("", 0, "").Date)
		require.NoError(t, err)
		assert.Len(t, active, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
}

func TestCommitRejectsOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)

	insert := func(a model.Appointment) error {
		return s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
			return tx.InsertAppointment(ctx, a)
		})
	}
	require.NoError(t, insert(appt("a1", 600, model.StatusPending)))
	assert.ErrorIs(t, insert(appt("a2", 630, model.StatusPending)), repository.ErrConflict)
	require.NoError(t, insert(appt("a3", 660, model.StatusConfirmed)))
	// Cancelled rows do not hold the slot.
	require.NoError(t, insert(appt("a4", 600, model.StatusCancelled)))
}

func TestWithProviderLockSerializes(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
				active, err := tx.ActiveAppointments(ctx, "p1", appt("", 0, "").Date)
				if err != nil {
					return err
				}
				if len(active) > 0 {
					return repository.ErrConflict
				}
				return tx.InsertAppointment(ctx, appt(string(rune('a'+i)), 540, model.StatusPending))
			})
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
		} else if errors.Is(err, repository.ErrConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflicts)
}

func TestListAppointmentsFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)

	a1 := appt("a1", 540, model.StatusPending)
	a1.Bookee = model.Registered{UserID: "c1"}
	a2 := appt("a2", 660, model.StatusConfirmed)
	a2.Bookee = model.Registered{UserID: "c2"}
	a2.Date = model.Date{Year: 2025, Month: time.January, Day: 7}
	require.NoError(t, s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
		if err := tx.InsertAppointment(ctx, a1); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, a2)
	}))

	got, err := s.ListAppointments(ctx, repository.AppointmentFilter{CustomerID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	got, err = s.ListAppointments(ctx, repository.AppointmentFilter{From: a2.Date})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)

	got, err = s.ListAppointments(ctx, repository.AppointmentFilter{ProviderID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, []string{got[0].ID, got[1].ID})
}

func TestReplaceWorkingHoursWaitsForProviderLock(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProvider(t, s, "p1", "Cuts", 4)
	nine, _ := model.ParseClock("09:00")
	noon, _ := model.ParseClock("12:00")
	monday := []model.WorkingHour{{ID: "h1", ProviderID: "p1", DayOfWeek: 1, Start: nine, End: noon, Available: true}}

	replaced := make(chan error, 1)
	err := s.WithProviderLock(ctx, "p1", func(ctx context.Context, tx repository.ScheduleTx) error {
		go func() { replaced <- s.ReplaceWorkingHours(ctx, "p1", monday) }()

		select {
		case <-replaced:
			t.Error("schedule replaced while a booking held the provider lock")
		case <-time.After(50 * time.Millisecond):
		}
		hours, err := tx.WorkingHoursForDay(ctx, "p1", time.Monday)
		if err != nil {
			return err
		}
		assert.Empty(t, hours)
		return nil
	})
	require.NoError(t, err)

	select {
	case err := <-replaced:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("schedule replace never acquired the provider lock")
	}
	hours, err := s.WorkingHoursForDay(ctx, "p1", time.Monday)
	require.NoError(t, err)
	assert.Len(t, hours, 1)
}
