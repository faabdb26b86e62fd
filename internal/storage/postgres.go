package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clinicledger/pkg/contracts/domain"
)

// DB is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db      DB
	closeFn func()
	now     func() time.Time
}

// NewPostgresStore wraps db. closeFn, when set, is called by Close.
func NewPostgresStore(db DB, closeFn func()) *PostgresStore {
	return &PostgresStore{db: db, closeFn: closeFn, now: time.Now}
}

func (s *PostgresStore) Clinics() ClinicRepository   { return &pgClinics{db: s.db, now: s.now} }
func (s *PostgresStore) Records() RecordRepository   { return &pgRecords{db: s.db, now: s.now} }
func (s *PostgresStore) Versions() VersionRepository { return &pgVersions{db: s.db, now: s.now} }
func (s *PostgresStore) Uploads() UploadRepository   { return &pgUploads{db: s.db, now: s.now} }

// WithKeyLock runs fn in a transaction holding a transaction-scoped advisory
// lock derived from the key.
func (s *PostgresStore) WithKeyLock(ctx context.Context, key domain.RecordKey, fn func(ctx context.Context, tx KeyTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}

	if err := fn(ctx, &pgKeyTx{db: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

type pgKeyTx struct {
	db  DB
	now func() time.Time
}

func (t *pgKeyTx) Records() RecordRepository   { return &pgRecords{db: t.db, now: t.now} }
func (t *pgKeyTx) Versions() VersionRepository { return &pgVersions{db: t.db, now: t.now} }

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Clinics

type pgClinics struct {
	db  DB
	now func() time.Time
}

const clinicColumns = `id, name, location, active, created_at, updated_at`

func scanClinic(row pgx.Row) (*domain.Clinic, error) {
	var c domain.Clinic
	if err := row.Scan(&c.ID, &c.Name, &c.Location, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapNoRows(err)
	}
	return &c, nil
}

func (r *pgClinics) Get(ctx context.Context, id string) (*domain.Clinic, error) {
	return scanClinic(r.db.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE id = $1`, id))
}

func (r *pgClinics) FindByName(ctx context.Context, name string) (*domain.Clinic, error) {
	return scanClinic(r.db.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE name = $1`, name))
}

func (r *pgClinics) FindContaining(ctx context.Context, fragment string) (*domain.Clinic, error) {
	query := `SELECT ` + clinicColumns + ` FROM clinics
		WHERE strpos(lower(name), lower($1)) > 0
		ORDER BY name
		LIMIT 1`
	return scanClinic(r.db.QueryRow(ctx, query, fragment))
}

func (r *pgClinics) Create(ctx context.Context, clinic *domain.Clinic) error {
	if clinic.ID == "" {
		clinic.ID = uuid.NewString()
	}
	now := r.now().UTC()
	clinic.CreatedAt, clinic.UpdatedAt = now, now

	query := `INSERT INTO clinics (` + clinicColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.Exec(ctx, query,
		clinic.ID, clinic.Name, clinic.Location, clinic.Active, clinic.CreatedAt, clinic.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("clinic %q: %w", clinic.Name, ErrConflict)
		}
		return err
	}
	return nil
}

// Records

type pgRecords struct {
	db  DB
	now func() time.Time
}

func (r *pgRecords) Get(ctx context.Context, key domain.RecordKey) (*domain.FinancialRecord, error) {
	query := `SELECT id, clinic_id, year, month, line_items, upload_id, created_at, updated_at
		FROM financial_records
		WHERE clinic_id = $1 AND year = $2 AND month = $3`

	var (
		rec   domain.FinancialRecord
		items []byte
	)
	err := r.db.QueryRow(ctx, query, key.ClinicID, key.Year, key.Month).Scan(
		&rec.ID, &rec.ClinicID, &rec.Year, &rec.Month, &items, &rec.UploadID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal(items, &rec.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items of %s: %w", key, err)
	}
	rec.Totals = rec.LineItems.Totals()
	return &rec, nil
}

func (r *pgRecords) Upsert(ctx context.Context, record *domain.FinancialRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.LineItems == nil {
		record.LineItems = domain.LineItems{}
	}
	record.Totals = record.LineItems.Totals()
	now := r.now().UTC()

	items, err := json.Marshal(record.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `INSERT INTO financial_records (
			id, clinic_id, year, month, line_items,
			total_income, total_cogs, gross_profit, total_expenses, net_ordinary_income, net_income,
			upload_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (clinic_id, year, month) DO UPDATE SET
			line_items = EXCLUDED.line_items,
			total_income = EXCLUDED.total_income,
			total_cogs = EXCLUDED.total_cogs,
			gross_profit = EXCLUDED.gross_profit,
			total_expenses = EXCLUDED.total_expenses,
			net_ordinary_income = EXCLUDED.net_ordinary_income,
			net_income = EXCLUDED.net_income,
			upload_id = EXCLUDED.upload_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	t := record.Totals
	return r.db.QueryRow(ctx, query,
		record.ID, record.ClinicID, record.Year, record.Month, items,
		t.TotalIncome.String(), t.TotalCOGS.String(), t.GrossProfit.String(),
		t.TotalExpenses.String(), t.NetOrdinaryIncome.String(), t.NetIncome.String(),
		record.UploadID, now,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
}

// Versions

type pgVersions struct {
	db  DB
	now func() time.Time
}

const versionColumns = `id, clinic_id, year, month, version, previous_version_id, upload_id, reason, line_items, created_at`

func scanVersion(row pgx.Row) (*domain.DataVersion, error) {
	var (
		v     domain.DataVersion
		items []byte
	)
	if err := row.Scan(
		&v.ID, &v.ClinicID, &v.Year, &v.Month, &v.Version, &v.PreviousVersionID,
		&v.UploadID, &v.Reason, &items, &v.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal(items, &v.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items of version %s: %w", v.ID, err)
	}
	v.Totals = v.LineItems.Totals()
	return &v, nil
}

func (r *pgVersions) Get(ctx context.Context, id string) (*domain.DataVersion, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanVersion(r.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM data_versions WHERE id = $1`, id))
}

func (r *pgVersions) Latest(ctx context.Context, key domain.RecordKey) (*domain.DataVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM data_versions
		WHERE clinic_id = $1 AND year = $2 AND month = $3
		ORDER BY version DESC
		LIMIT 1`
	return scanVersion(r.db.QueryRow(ctx, query, key.ClinicID, key.Year, key.Month))
}

func (r *pgVersions) Create(ctx context.Context, v *domain.DataVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.LineItems == nil {
		v.LineItems = domain.LineItems{}
	}
	v.Totals = v.LineItems.Totals()
	v.CreatedAt = r.now().UTC()

	items, err := json.Marshal(v.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `INSERT INTO data_versions (
			id, clinic_id, year, month, version, previous_version_id, upload_id, reason, line_items,
			total_income, total_cogs, gross_profit, total_expenses, net_ordinary_income, net_income, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	t := v.Totals
	_, err = r.db.Exec(ctx, query,
		v.ID, v.ClinicID, v.Year, v.Month, v.Version, v.PreviousVersionID, v.UploadID, v.Reason, items,
		t.TotalIncome.String(), t.TotalCOGS.String(), t.GrossProfit.String(),
		t.TotalExpenses.String(), t.NetOrdinaryIncome.String(), t.NetIncome.String(),
		v.CreatedAt,
	)
	return err
}

func (r *pgVersions) List(ctx context.Context, filter VersionFilter) ([]domain.DataVersion, int, error) {
	limit, offset := NormalizePage(filter.Limit, filter.Offset)

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ClinicID != "" {
		add("clinic_id = $%d", filter.ClinicID)
	}
	if filter.Year != 0 {
		add("year = $%d", filter.Year)
	}
	if filter.Month != 0 {
		add("month = $%d", filter.Month)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM data_versions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM data_versions%s
		ORDER BY created_at DESC, version DESC
		LIMIT $%d OFFSET $%d`, versionColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.DataVersion, 0, limit)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		versions = append(versions, *v)
	}
	return versions, total, rows.Err()
}

// Uploads

type pgUploads struct {
	db  DB
	now func() time.Time
}

const uploadColumns = `id, uploaded_by, files, status, progress, files_processed, records_processed,
	records_failed, errors, warnings, created_at, started_at, completed_at, updated_at`

func scanUpload(row pgx.Row) (*domain.UploadHistory, error) {
	var (
		u                     domain.UploadHistory
		files, errs, warnings []byte
	)
	if err := row.Scan(
		&u.ID, &u.UploadedBy, &files, &u.Status, &u.Progress, &u.FilesProcessed, &u.RecordsProcessed,
		&u.RecordsFailed, &errs, &warnings, &u.CreatedAt, &u.StartedAt, &u.CompletedAt, &u.UpdatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	for _, field := range []struct {
		raw []byte
		dst any
	}{{files, &u.Files}, {errs, &u.Errors}, {warnings, &u.Warnings}} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode upload %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func encodeUploadLists(u *domain.UploadHistory) (files, errs, warnings []byte, err error) {
	if files, err = json.Marshal(nonNil(u.Files)); err != nil {
		return nil, nil, nil, err
	}
	if errs, err = json.Marshal(nonNil(u.Errors)); err != nil {
		return nil, nil, nil, err
	}
	if warnings, err = json.Marshal(nonNil(u.Warnings)); err != nil {
		return nil, nil, nil, err
	}
	return files, errs, warnings, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *pgUploads) Create(ctx context.Context, u *domain.UploadHistory) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = domain.UploadStatusPending
	}
	now := r.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	files, errs, warnings, err := encodeUploadLists(u)
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}

	query := `INSERT INTO upload_history (` + uploadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.Exec(ctx, query,
		u.ID, u.UploadedBy, files, u.Status, u.Progress, u.FilesProcessed, u.RecordsProcessed,
		u.RecordsFailed, errs, warnings, u.CreatedAt, u.StartedAt, u.CompletedAt, u.UpdatedAt,
	)
	return err
}

func (r *pgUploads) Get(ctx context.Context, id string) (*domain.UploadHistory, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanUpload(r.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM upload_history WHERE id = $1`, id))
}

func (r *pgUploads) List(ctx context.Context, filter UploadFilter) ([]domain.UploadHistory, int, error) {
	limit, offset := NormalizePage(filter.Limit, filter.Offset)

	where := ""
	var args []any
	if filter.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM upload_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM upload_history%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, uploadColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]domain.UploadHistory, 0, limit)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, total, rows.Err()
}

func (r *pgUploads) Update(ctx context.Context, u *domain.UploadHistory) error {
	u.UpdatedAt = r.now().UTC()
	files, errs, warnings, err := encodeUploadLists(u)
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}

	query := `UPDATE upload_history SET
			files = $2, status = $3, progress = $4, files_processed = $5, records_processed = $6,
			records_failed = $7, errors = $8, warnings = $9, started_at = $10, completed_at = $11, updated_at = $12
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		u.ID, files, u.Status, u.Progress, u.FilesProcessed, u.RecordsProcessed,
		u.RecordsFailed, errs, warnings, u.StartedAt, u.CompletedAt, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgUploads) Claim(ctx context.Context, id string) (*domain.UploadHistory, error) {
	now := r.now().UTC()
	query := `UPDATE upload_history
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + uploadColumns
	u, err := scanUpload(r.db.QueryRow(ctx, query, id, domain.UploadStatusProcessing, now, domain.UploadStatusPending))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return u, err
}

func (r *pgUploads) FailProcessing(ctx context.Context, message string) (int, error) {
	now := r.now().UTC()
	entry, err := json.Marshal([]domain.UploadError{{Kind: domain.UploadErrorFatal, Message: message}})
	if err != nil {
		return 0, err
	}
	query := `UPDATE upload_history
		SET status = $1, errors = errors || $2::jsonb, completed_at = $3, updated_at = $3
		WHERE status = $4`
	tag, err := r.db.Exec(ctx, query, domain.UploadStatusFailed, entry, now, domain.UploadStatusProcessing)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgUploads) PendingIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM upload_history
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at`, domain.UploadStatusPending, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgUploads) MarkDeleted(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	var status domain.UploadStatus
	err := r.db.QueryRow(ctx, `UPDATE upload_history
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5, $6)
		RETURNING status`,
		id, domain.UploadStatusDeleted, r.now().UTC(),
		domain.UploadStatusCompleted, domain.UploadStatusCompletedWithErrors, domain.UploadStatusFailed,
	).Scan(&status)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if err := r.db.QueryRow(ctx, `SELECT status FROM upload_history WHERE id = $1`, id).Scan(&status); err != nil {
		return mapNoRows(err)
	}
	if status == domain.UploadStatusDeleted {
		return nil
	}
	return ErrConflict
}
