package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, repository.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), repository.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_key"}, repository.ErrDuplicate},
		{"exclusion", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}, repository.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, repository.ErrNotFound},
		{"bad uuid text", &pgconn.PgError{Code: "22P02"}, repository.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tc.in), tc.want)
		})
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
	assert.NoError(t, mapError(nil))
}

func TestRevokeTokenOnlyOnce(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	query, args, err := revokeTokenQuery("t1", at).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, query, `UPDATE "refresh_tokens" SET "revoked_at"=$1`)
	assert.Contains(t, query, `"revoked_at" IS NULL`)
	assert.NotContains(t, query, "COALESCE")
	assert.Contains(t, args, "t1")
}

type recordingTx struct {
	pgx.Tx
	sql  []string
	args [][]any
	err  error
}

func (r *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, r.err
}

func TestLockProviderTakesTransactionAdvisoryLock(t *testing.T) {
	tx := &recordingTx{}
	require.NoError(t, lockProvider(context.Background(), tx, "p1"))
	require.Len(t, tx.sql, 1)
	assert.Contains(t, tx.sql[0], "pg_advisory_xact_lock(hashtextextended($1, 0))")
	assert.Equal(t, []any{"p1"}, tx.args[0])

	failing := &recordingTx{err: errors.New("conn closed")}
	assert.ErrorContains(t, lockProvider(context.Background(), failing, "p1"), "acquire provider lock")
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%hair%`, likePattern(" hair "))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}

func TestProvidersQuery(t *testing.T) {
	query, args, err := providersQuery(repository.ProviderFilter{
		City:       "Dhaka",
		Search:     "cut",
		ActiveOnly: true,
		Page:       repository.Page{Offset: 20, Limit: 500},
	}).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "providers" AS "p"`)
	assert.Contains(t, query, `INNER JOIN "users" AS "u" ON ("u"."id" = "p"."user_id")`)
	assert.Contains(t, query, `ILIKE`)
	assert.Contains(t, query, `ORDER BY "p"."rating_avg" DESC, "p"."rating_count" DESC, "p"."business_name" ASC, "p"."id" ASC`)
	assert.Contains(t, query, `LIMIT $`)
	assert.NotContains(t, query, "Dhaka")
	assert.Contains(t, args, "dhaka")
	assert.Contains(t, args, "%cut%")
	assert.Contains(t, args, int64(repository.MaxPageSize))
}

func TestAppointmentsQuery(t *testing.T) {
	from := model.Date{Year: 2025, Month: time.January, Day: 1}
	query, args, err := appointmentsQuery(repository.AppointmentFilter{
		ProviderID: "p1",
		Status:     model.StatusPending,
		From:       from,
	}).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, query, `"provider_id" = $`)
	assert.Contains(t, query, `"status" = $`)
	assert.Contains(t, query, `"date" >= $`)
	assert.NotContains(t, query, `"customer_id"`+" =")
	assert.Contains(t, query, `ORDER BY "date" ASC, "start_minute" ASC, "id" ASC`)
	assert.Contains(t, args, "p1")
	assert.Contains(t, args, from.In(time.UTC))
}

func TestAppointmentRecordBookee(t *testing.T) {
	guest := appointmentRecord(model.Appointment{
		Bookee: model.Guest{Name: "Ann", Email: "ann@example.com"},
		Status: model.StatusPending,
	})
	assert.Nil(t, guest["customer_id"])
	assert.Equal(t, true, guest["is_guest"])
	assert.Equal(t, "ann@example.com", guest["guest_email"])

	registered := appointmentRecord(model.Appointment{
		Bookee: model.Registered{UserID: "u1"},
		Status: model.StatusConfirmed,
	})
	assert.Equal(t, "u1", registered["customer_id"])
	assert.Equal(t, false, registered["is_guest"])
	assert.Equal(t, "", registered["guest_name"])
}
