package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/pkg/contracts/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := NewPostgresStore(mock, nil)
	fixed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestPostgresStore_WithKeyLockCommits(t *testing.T) {
	store, mock := newMockStore(t)
	key := domain.RecordKey{ClinicID: "7f0c7c2e-1111-4c1a-9a55-0a4e7c0f2b11", Year: 2024, Month: 1}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`INSERT INTO financial_records`).
		WithArgs(pgxmock.AnyArg(), key.ClinicID, 2024, 1, pgxmock.AnyArg(),
			"100", "0", "100", "0", "100", "100", (*string)(nil), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("rec-1", time.Now(), time.Now()))
	mock.ExpectCommit()

	err := store.WithKeyLock(context.Background(), key, func(ctx context.Context, tx KeyTx) error {
		return tx.Records().Upsert(ctx, &domain.FinancialRecord{
			ClinicID: key.ClinicID, Year: 2024, Month: 1,
			LineItems: domain.LineItems{domain.PracticeIncome: decimal.NewFromInt(100)},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithKeyLockRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	key := domain.RecordKey{ClinicID: "c1", Year: 2024, Month: 1}
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err := store.WithKeyLock(context.Background(), key, func(context.Context, KeyTx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecords_Get(t *testing.T) {
	store, mock := newMockStore(t)
	key := domain.RecordKey{ClinicID: "c1", Year: 2024, Month: 3}
	now := time.Now()

	mock.ExpectQuery(`SELECT id, clinic_id, year, month, line_items`).
		WithArgs("c1", 2024, 3).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "clinic_id", "year", "month", "line_items", "upload_id", "created_at", "updated_at",
		}).AddRow("r1", "c1", 2024, 3, []byte(`{"practiceIncome":"1200","rentExpense":"200"}`), (*string)(nil), now, now))

	rec, err := store.Records().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "1200", rec.LineItems.Get(domain.PracticeIncome).String())
	assert.Equal(t, "1000", rec.Totals.NetIncome.String())

	mock.ExpectQuery(`SELECT id, clinic_id, year, month, line_items`).
		WithArgs("c1", 2024, 4).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Records().Get(context.Background(), domain.RecordKey{ClinicID: "c1", Year: 2024, Month: 4})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVersions_Create(t *testing.T) {
	store, mock := newMockStore(t)
	prev := "0d8f7b56-8d0f-4f0e-9a1d-2c6a4c3b2a10"
	v := &domain.DataVersion{
		ClinicID: "c1", Year: 2024, Month: 1, Version: 2,
		PreviousVersionID: &prev, Reason: domain.VersionReasonRollback,
		LineItems: domain.LineItems{domain.PracticeIncome: decimal.NewFromInt(200)},
	}

	mock.ExpectExec(`INSERT INTO data_versions`).
		WithArgs(pgxmock.AnyArg(), "c1", 2024, 1, 2, &prev, (*string)(nil), domain.VersionReasonRollback,
			pgxmock.AnyArg(), "200", "0", "200", "0", "200", "200", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Versions().Create(context.Background(), v))
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "200", v.Totals.GrossProfit.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVersions_GetRejectsMalformedID(t *testing.T) {
	store, mock := newMockStore(t)
	_, err := store.Versions().Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUploads_ClaimConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE upload_history`).
		WithArgs("u1", domain.UploadStatusProcessing, pgxmock.AnyArg(), domain.UploadStatusPending).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Uploads().Claim(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUploads_FailProcessing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE upload_history`).
		WithArgs(domain.UploadStatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg(), domain.UploadStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.Uploads().FailProcessing(context.Background(), "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUploads_PendingIDs(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id FROM upload_history`).
		WithArgs(domain.UploadStatusPending, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("u1").AddRow("u2"))

	ids, err := store.Uploads().PendingIDs(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUploads_MarkDeletedWhileRunning(t *testing.T) {
	store, mock := newMockStore(t)
	id := "3b0e1f52-7f5e-4b7e-8f0a-0c9b1d2e3f40"

	mock.ExpectQuery(`UPDATE upload_history`).
		WithArgs(id, domain.UploadStatusDeleted, pgxmock.AnyArg(),
			domain.UploadStatusCompleted, domain.UploadStatusCompletedWithErrors, domain.UploadStatusFailed).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM upload_history`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(domain.UploadStatusProcessing))

	err := store.Uploads().MarkDeleted(context.Background(), id)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
