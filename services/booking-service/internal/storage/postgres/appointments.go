package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

var appointmentColumns = []any{
	"id", "provider_id", "service_id", "customer_id", "guest_name", "guest_email", "guest_phone", "is_guest",
	"date", "start_minute", "duration_minutes", "status", "price_snapshot", "payment_status", "notes",
	"created_at", "updated_at",
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a                            model.Appointment
		customerID                   *string
		guestName, guestEmail, phone string
		isGuest                      bool
		date                         time.Time
		start                        int
	)
	err := row.Scan(&a.ID, &a.ProviderID, &a.ServiceID, &customerID, &guestName, &guestEmail, &phone, &isGuest,
		&date, &start, &a.DurationMinutes, &a.Status, &a.PriceSnapshot, &a.PaymentStatus, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	if isGuest || customerID == nil {
		a.Bookee = model.Guest{Name: guestName, Email: guestEmail, Phone: phone}
	} else {
		a.Bookee = model.Registered{UserID: *customerID}
	}
	a.Date = model.DateOf(date)
	a.Start = model.Clock(start)
	return a, nil
}

func appointmentRecord(a model.Appointment) goqu.Record {
	rec := goqu.Record{
		"id":               a.ID,
		"provider_id":      a.ProviderID,
		"service_id":       a.ServiceID,
		"customer_id":      nil,
		"guest_name":       "",
		"guest_email":      "",
		"guest_phone":      "",
		"is_guest":         a.IsGuest(),
		"date":             a.Date.In(time.UTC),
		"start_minute":     a.Start.Minutes(),
		"duration_minutes": a.DurationMinutes,
		"status":           string(a.Status),
		"price_snapshot":   a.PriceSnapshot,
		"payment_status":   string(a.PaymentStatus),
		"notes":            a.Notes,
		"created_at":       a.CreatedAt,
		"updated_at":       a.UpdatedAt,
	}
	switch b := a.Bookee.(type) {
	case model.Registered:
		rec["customer_id"] = b.UserID
	case model.Guest:
		rec["guest_name"] = b.Name
		rec["guest_email"] = b.Email
		rec["guest_phone"] = b.Phone
	}
	return rec
}

func queryAppointments(ctx context.Context, q querier, ds *goqu.SelectDataset) ([]model.Appointment, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func getAppointment(ctx context.Context, q querier, id string) (model.Appointment, error) {
	query, args, err := dialect.From("appointments").Select(appointmentColumns...).
		Where(goqu.Ex{"id": id}).Prepared(true).ToSQL()
	if err != nil {
		return model.Appointment{}, fmt.Errorf("build query: %w", err)
	}
	return scanAppointment(q.QueryRow(ctx, query, args...))
}

func activeAppointments(ctx context.Context, q querier, providerID string, date model.Date) ([]model.Appointment, error) {
	return queryAppointments(ctx, q, dialect.From("appointments").Select(appointmentColumns...).
		Where(goqu.Ex{
			"provider_id": providerID,
			"date":        date.In(time.UTC),
			"status":      []string{string(model.StatusPending), string(model.StatusConfirmed)},
		}).
		Order(goqu.I("start_minute").Asc()))
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, s.pool, id)
}

func (s *Store) ActiveAppointments(ctx context.Context, providerID string, date model.Date) ([]model.Appointment, error) {
	return activeAppointments(ctx, s.pool, providerID, date)
}

func appointmentsQuery(f repository.AppointmentFilter) *goqu.SelectDataset {
	ds := dialect.From("appointments").Select(appointmentColumns...)
	if f.ProviderID != "" {
		ds = ds.Where(goqu.Ex{"provider_id": f.ProviderID})
	}
	if f.CustomerID != "" {
		ds = ds.Where(goqu.Ex{"customer_id": f.CustomerID})
	}
	if f.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(f.Status)})
	}
	if !f.From.IsZero() {
		ds = ds.Where(goqu.I("date").Gte(f.From.In(time.UTC)))
	}
	if !f.To.IsZero() {
		ds = ds.Where(goqu.I("date").Lte(f.To.In(time.UTC)))
	}
	ds = ds.Order(goqu.I("date").Asc(), goqu.I("start_minute").Asc(), goqu.I("id").Asc())
	return paged(ds, f.Page).Prepared(true)
}

func (s *Store) ListAppointments(ctx context.Context, f repository.AppointmentFilter) ([]model.Appointment, error) {
	return queryAppointments(ctx, s.pool, appointmentsQuery(f))
}

// WithProviderLock runs fn in a transaction holding a transaction-scoped
// advisory lock keyed by the provider id. The exclusion constraint on
// appointments rejects any overlap that still reaches the table.
func (s *Store) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx repository.ScheduleTx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockProvider(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, &scheduleTx{tx: tx})
	})
}

const providerLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// lockProvider serializes schedule writes for one provider until tx ends.
func lockProvider(ctx context.Context, tx pgx.Tx, providerID string) error {
	if _, err := tx.Exec(ctx, providerLockSQL, providerID); err != nil {
		return fmt.Errorf("acquire provider lock: %w", err)
	}
	return nil
}

type scheduleTx struct {
	tx pgx.Tx
}

func (t *scheduleTx) WorkingHoursForDay(ctx context.Context, providerID string, day time.Weekday) ([]model.WorkingHour, error) {
	return workingHoursForDay(ctx, t.tx, providerID, day)
}

func (t *scheduleTx) ActiveAppointments(ctx context.Context, providerID string, date model.Date) ([]model.Appointment, error) {
	return activeAppointments(ctx, t.tx, providerID, date)
}

func (t *scheduleTx) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, id)
}

func (t *scheduleTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := exec(ctx, t.tx, dialect.Insert("appointments").Rows(appointmentRecord(a)).Prepared(true))
	return err
}

// UpdateAppointment writes the mutable columns. Duration, price snapshot and
// the bookee are fixed at creation.
func (t *scheduleTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := exec(ctx, t.tx, dialect.Update("appointments").Set(goqu.Record{
		"date":           a.Date.In(time.UTC),
		"start_minute":   a.Start.Minutes(),
		"status":         string(a.Status),
		"payment_status": string(a.PaymentStatus),
		"notes":          a.Notes,
		"updated_at":     a.UpdatedAt,
	}).Where(goqu.Ex{"id": a.ID}).Prepared(true))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
