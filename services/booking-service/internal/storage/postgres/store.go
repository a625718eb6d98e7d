// Package postgres implements the repository contracts on PostgreSQL using
// pgx for execution and goqu for query building.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *db.Pool
}

var _ repository.Store = (*Store)(nil)

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return mapError(s.pool.InTx(ctx, fn))
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pgErr.ConstraintName)
		case "23P01":
			return repository.ErrConflict
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
		case "22P02":
			// malformed uuid literal
			return repository.ErrNotFound
		}
	}
	return err
}

func exec(ctx context.Context, q querier, ds interface {
	ToSQL() (string, []any, error)
}) (pgconn.CommandTag, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	tag, err := q.Exec(ctx, query, args...)
	return tag, mapError(err)
}

// likePattern returns a case-insensitive substring pattern with LIKE
// metacharacters escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

func searchAny(term string, cols ...string) exp.ExpressionList {
	pattern := likePattern(term)
	ors := make([]exp.Expression, 0, len(cols))
	for _, c := range cols {
		ors = append(ors, goqu.I(c).ILike(pattern))
	}
	return goqu.Or(ors...)
}

func equalFold(col, value string) exp.BooleanExpression {
	return goqu.Func("lower", goqu.I(col)).Eq(strings.ToLower(strings.TrimSpace(value)))
}

func paged(ds *goqu.SelectDataset, p repository.Page) *goqu.SelectDataset {
	p = p.Normalize()
	return ds.Limit(uint(p.Limit)).Offset(uint(p.Offset))
}

// Users

var userColumns = []any{"id", "email", "password_hash", "role", "display_name", "phone", "active", "email_verified", "created_at"}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.DisplayName, &u.Phone, &u.Active, &u.EmailVerified, &u.CreatedAt)
	return u, mapError(err)
}

func userRecord(u model.User) goqu.Record {
	return goqu.Record{
		"id":             u.ID,
		"email":          u.Email,
		"password_hash":  u.PasswordHash,
		"role":           string(u.Role),
		"display_name":   u.DisplayName,
		"phone":          u.Phone,
		"active":         u.Active,
		"email_verified": u.EmailVerified,
		"created_at":     u.CreatedAt,
	}
}

func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	_, err := exec(ctx, s.pool, dialect.Insert("users").Rows(userRecord(u)).Prepared(true))
	return err
}

// CreateProviderUser inserts the user and its provider profile atomically.
func (s *Store) CreateProviderUser(ctx context.Context, u model.User, p model.Provider) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := exec(ctx, tx, dialect.Insert("users").Rows(userRecord(u)).Prepared(true)); err != nil {
			return err
		}
		_, err := exec(ctx, tx, dialect.Insert("providers").Rows(goqu.Record{
			"id":             p.ID,
			"user_id":        p.UserID,
			"business_name":  p.BusinessName,
			"specialization": p.Specialization,
			"city":           p.City,
			"address":        p.Address,
			"description":    p.Description,
			"active":         p.Active,
			"verified":       p.Verified,
			"rating_avg":     p.RatingAvg,
			"rating_count":   p.RatingCount,
			"created_at":     p.CreatedAt,
			"updated_at":     p.UpdatedAt,
		}).Prepared(true))
		return err
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.getUser(ctx, goqu.Ex{"id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.getUser(ctx, equalFold("email", email))
}

func (s *Store) getUser(ctx context.Context, where exp.Expression) (model.User, error) {
	query, args, err := dialect.From("users").Select(userColumns...).Where(where).Prepared(true).ToSQL()
	if err != nil {
		return model.User{}, fmt.Errorf("build query: %w", err)
	}
	return scanUser(s.pool.QueryRow(ctx, query, args...))
}

func usersQuery(f repository.UserFilter) *goqu.SelectDataset {
	ds := dialect.From("users").Select(userColumns...)
	if f.Role != "" {
		ds = ds.Where(goqu.Ex{"role": string(f.Role)})
	}
	if strings.TrimSpace(f.Search) != "" {
		ds = ds.Where(searchAny(f.Search, "email", "display_name"))
	}
	return paged(ds.Order(goqu.I("email").Asc()), f.Page).Prepared(true)
}

func (s *Store) ListUsers(ctx context.Context, f repository.UserFilter) ([]model.User, error) {
	query, args, err := usersQuery(f).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeactivateUser clears the active flag of the user and of its provider profile.
func (s *Store) DeactivateUser(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := exec(ctx, tx, dialect.Update("users").Set(goqu.Record{"active": false}).Where(goqu.Ex{"id": id}).Prepared(true))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		_, err = exec(ctx, tx, dialect.Update("providers").
			Set(goqu.Record{"active": false, "updated_at": time.Now().UTC()}).
			Where(goqu.Ex{"user_id": id}).Prepared(true))
		return err
	})
}

// Refresh tokens

func (s *Store) CreateRefreshToken(ctx context.Context, t model.RefreshToken) error {
	_, err := exec(ctx, s.pool, dialect.Insert("refresh_tokens").Rows(goqu.Record{
		"id":         t.ID,
		"user_id":    t.UserID,
		"token_hash": t.Hash,
		"expires_at": t.ExpiresAt,
		"revoked_at": t.RevokedAt,
	}).Prepared(true))
	return err
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	query, args, err := dialect.From("refresh_tokens").
		Select("id", "user_id", "token_hash", "expires_at", "revoked_at").
		Where(goqu.Ex{"token_hash": hash}).Prepared(true).ToSQL()
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("build query: %w", err)
	}
	var t model.RefreshToken
	err = s.pool.QueryRow(ctx, query, args...).Scan(&t.ID, &t.UserID, &t.Hash, &t.ExpiresAt, &t.RevokedAt)
	return t, mapError(err)
}

func revokeTokenQuery(id string, at time.Time) *goqu.UpdateDataset {
	return dialect.Update("refresh_tokens").
		Set(goqu.Record{"revoked_at": at}).
		Where(goqu.Ex{"id": id, "revoked_at": nil}).Prepared(true)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	tag, err := exec(ctx, s.pool, revokeTokenQuery(id, at))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Providers

var providerColumns = []any{
	"p.id", "p.user_id", "p.business_name", "p.specialization", "p.city", "p.address", "p.description",
	"p.active", "p.verified", "p.rating_avg", "p.rating_count", "p.created_at", "p.updated_at", "u.display_name",
}

func providersFrom() *goqu.SelectDataset {
	return dialect.From(goqu.T("providers").As("p")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.Ex{"u.id": goqu.I("p.user_id")})).
		Select(providerColumns...)
}

func scanProvider(row pgx.Row) (model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.UserID, &p.BusinessName, &p.Specialization, &p.City, &p.Address, &p.Description,
		&p.Active, &p.Verified, &p.RatingAvg, &p.RatingCount, &p.CreatedAt, &p.UpdatedAt, &p.OwnerName)
	return p, mapError(err)
}

func (s *Store) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	return s.getProvider(ctx, goqu.Ex{"p.id": id})
}

func (s *Store) GetProviderByUser(ctx context.Context, userID string) (model.Provider, error) {
	return s.getProvider(ctx, goqu.Ex{"p.user_id": userID})
}

func (s *Store) getProvider(ctx context.Context, where exp.Expression) (model.Provider, error) {
	query, args, err := providersFrom().Where(where).Prepared(true).ToSQL()
	if err != nil {
		return model.Provider{}, fmt.Errorf("build query: %w", err)
	}
	return scanProvider(s.pool.QueryRow(ctx, query, args...))
}

func providersQuery(f repository.ProviderFilter) *goqu.SelectDataset {
	ds := providersFrom()
	if f.ActiveOnly {
		ds = ds.Where(goqu.Ex{"p.active": true})
	}
	if f.VerifiedOnly {
		ds = ds.Where(goqu.Ex{"p.verified": true})
	}
	if strings.TrimSpace(f.City) != "" {
		ds = ds.Where(equalFold("p.city", f.City))
	}
	if strings.TrimSpace(f.Specialization) != "" {
		ds = ds.Where(equalFold("p.specialization", f.Specialization))
	}
	if strings.TrimSpace(f.Search) != "" {
		ds = ds.Where(searchAny(f.Search, "p.business_name", "p.specialization", "p.description", "u.display_name"))
	}
	ds = ds.Order(
		goqu.I("p.rating_avg").Desc(),
		goqu.I("p.rating_count").Desc(),
		goqu.I("p.business_name").Asc(),
		goqu.I("p.id").Asc(),
	)
	return paged(ds, f.Page).Prepared(true)
}

func (s *Store) ListProviders(ctx context.Context, f repository.ProviderFilter) ([]model.Provider, error) {
	query, args, err := providersQuery(f).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProvider(ctx context.Context, p model.Provider) error {
	tag, err := exec(ctx, s.pool, dialect.Update("providers").Set(goqu.Record{
		"business_name":  p.BusinessName,
		"specialization": p.Specialization,
		"city":           p.City,
		"address":        p.Address,
		"description":    p.Description,
		"active":         p.Active,
		"verified":       p.Verified,
		"updated_at":     p.UpdatedAt,
	}).Where(goqu.Ex{"id": p.ID}).Prepared(true))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Services

var serviceColumns = []any{"id", "provider_id", "name", "description", "duration_minutes", "price", "category", "active", "created_at", "updated_at"}

func scanService(row pgx.Row) (model.Service, error) {
	var svc model.Service
	err := row.Scan(&svc.ID, &svc.ProviderID, &svc.Name, &svc.Description, &svc.DurationMinutes, &svc.Price,
		&svc.Category, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt)
	return svc, mapError(err)
}

func (s *Store) CreateService(ctx context.Context, svc model.Service) error {
	_, err := exec(ctx, s.pool, dialect.Insert("services").Rows(goqu.Record{
		"id":               svc.ID,
		"provider_id":      svc.ProviderID,
		"name":             svc.Name,
		"description":      svc.Description,
		"duration_minutes": svc.DurationMinutes,
		"price":            svc.Price,
		"category":         svc.Category,
		"active":           svc.Active,
		"created_at":       svc.CreatedAt,
		"updated_at":       svc.UpdatedAt,
	}).Prepared(true))
	return err
}

func (s *Store) GetService(ctx context.Context, id string) (model.Service, error) {
	query, args, err := dialect.From("services").Select(serviceColumns...).Where(goqu.Ex{"id": id}).Prepared(true).ToSQL()
	if err != nil {
		return model.Service{}, fmt.Errorf("build query: %w", err)
	}
	return scanService(s.pool.QueryRow(ctx, query, args...))
}

func servicesQuery(f repository.ServiceFilter) *goqu.SelectDataset {
	ds := dialect.From("services").Select(serviceColumns...)
	if f.ProviderID != "" {
		ds = ds.Where(goqu.Ex{"provider_id": f.ProviderID})
	}
	if strings.TrimSpace(f.Category) != "" {
		ds = ds.Where(equalFold("category", f.Category))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.Ex{"active": true})
	}
	if strings.TrimSpace(f.Search) != "" {
		ds = ds.Where(searchAny(f.Search, "name", "description"))
	}
	return paged(ds.Order(goqu.I("name").Asc(), goqu.I("id").Asc()), f.Page).Prepared(true)
}

func (s *Store) ListServices(ctx context.Context, f repository.ServiceFilter) ([]model.Service, error) {
	query, args, err := servicesQuery(f).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// UpdateService writes the mutable catalog fields.
func (s *Store) UpdateService(ctx context.Context, svc model.Service) error {
	tag, err := exec(ctx, s.pool, dialect.Update("services").Set(goqu.Record{
		"name":             svc.Name,
		"description":      svc.Description,
		"duration_minutes": svc.DurationMinutes,
		"price":            svc.Price,
		"category":         svc.Category,
		"active":           svc.Active,
		"updated_at":       svc.UpdatedAt,
	}).Where(goqu.Ex{"id": svc.ID}).Prepared(true))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Working hours

var workingHourColumns = []any{"id", "provider_id", "day_of_week", "start_minute", "end_minute", "available"}

func queryWorkingHours(ctx context.Context, q querier, ds *goqu.SelectDataset) ([]model.WorkingHour, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.WorkingHour
	for rows.Next() {
		var (
			h          model.WorkingHour
			start, end int
		)
		if err := rows.Scan(&h.ID, &h.ProviderID, &h.DayOfWeek, &start, &end, &h.Available); err != nil {
			return nil, err
		}
		h.Start, h.End = model.Clock(start), model.Clock(end)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHour, error) {
	return queryWorkingHours(ctx, s.pool, dialect.From("working_hours").Select(workingHourColumns...).
		Where(goqu.Ex{"provider_id": providerID}).
		Order(goqu.I("day_of_week").Asc(), goqu.I("start_minute").Asc()))
}

// ReplaceWorkingHours swaps the provider's weekly schedule in one transaction
// under the same provider lock that bookings take.
func (s *Store) ReplaceWorkingHours(ctx context.Context, providerID string, hours []model.WorkingHour) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockProvider(ctx, tx, providerID); err != nil {
			return err
		}
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM providers WHERE id = $1`, providerID).Scan(&id)
		if err != nil {
			return mapError(err)
		}
		if _, err := exec(ctx, tx, dialect.Delete("working_hours").Where(goqu.Ex{"provider_id": providerID}).Prepared(true)); err != nil {
			return err
		}
		if len(hours) == 0 {
			return nil
		}
		rows := make([]any, 0, len(hours))
		for _, h := range hours {
			rows = append(rows, goqu.Record{
				"id":           h.ID,
				"provider_id":  providerID,
				"day_of_week":  h.DayOfWeek,
				"start_minute": h.Start.Minutes(),
				"end_minute":   h.End.Minutes(),
				"available":    h.Available,
			})
		}
		_, err = exec(ctx, tx, dialect.Insert("working_hours").Rows(rows...).Prepared(true))
		return err
	})
}

func workingHoursForDay(ctx context.Context, q querier, providerID string, day time.Weekday) ([]model.WorkingHour, error) {
	return queryWorkingHours(ctx, q, dialect.From("working_hours").Select(workingHourColumns...).
		Where(goqu.Ex{"provider_id": providerID, "day_of_week": int(day), "available": true}).
		Order(goqu.I("start_minute").Asc()))
}

func (s *Store) WorkingHoursForDay(ctx context.Context, providerID string, day time.Weekday) ([]model.WorkingHour, error) {
	return workingHoursForDay(ctx, s.pool, providerID, day)
}
