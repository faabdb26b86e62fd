package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicledger/pkg/contracts/domain"
)

// MemoryStore implements Store in process memory. Rows are deep copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	clinics  map[string]domain.Clinic
	records  map[domain.RecordKey]domain.FinancialRecord
	versions map[string]domain.DataVersion
	uploads  map[string]domain.UploadHistory

	keyMu    sync.Mutex
	keyLocks map[domain.RecordKey]*sync.Mutex

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clinics:  make(map[string]domain.Clinic),
		records:  make(map[domain.RecordKey]domain.FinancialRecord),
		versions: make(map[string]domain.DataVersion),
		uploads:  make(map[string]domain.UploadHistory),
		keyLocks: make(map[domain.RecordKey]*sync.Mutex),
		now:      time.Now,
	}
}

func (s *MemoryStore) Clinics() ClinicRepository   { return memClinics{s} }
func (s *MemoryStore) Records() RecordRepository   { return memRecords{s} }
func (s *MemoryStore) Versions() VersionRepository { return memVersions{s} }
func (s *MemoryStore) Uploads() UploadRepository   { return memUploads{s} }

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close()                     {}

// WithKeyLock buffers the writes of fn and applies them only when it succeeds.
func (s *MemoryStore) WithKeyLock(ctx context.Context, key domain.RecordKey, fn func(ctx context.Context, tx KeyTx) error) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	tx := &memKeyTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range tx.versions {
		s.versions[v.ID] = v
	}
	for _, r := range tx.records {
		s.records[r.Key()] = r
	}
	return nil
}

func (s *MemoryStore) keyLock(key domain.RecordKey) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	m, ok := s.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyLocks[key] = m
	}
	return m
}

// VersionCount returns how many versions exist for key.
func (s *MemoryStore) VersionCount(key domain.RecordKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.versions {
		if v.Key() == key {
			n++
		}
	}
	return n
}

// DeleteRecord removes a live record, as an external actor would.
func (s *MemoryStore) DeleteRecord(key domain.RecordKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func cloneRecord(r domain.FinancialRecord) domain.FinancialRecord {
	r.LineItems = r.LineItems.Clone()
	r.UploadID = clonePtr(r.UploadID)
	return r
}

func cloneVersion(v domain.DataVersion) domain.DataVersion {
	v.LineItems = v.LineItems.Clone()
	v.UploadID = clonePtr(v.UploadID)
	v.PreviousVersionID = clonePtr(v.PreviousVersionID)
	return v
}

func cloneUpload(u domain.UploadHistory) domain.UploadHistory {
	u.Files = append([]domain.UploadFile(nil), u.Files...)
	u.Errors = append([]domain.UploadError(nil), u.Errors...)
	u.Warnings = append([]string(nil), u.Warnings...)
	u.StartedAt = clonePtr(u.StartedAt)
	u.CompletedAt = clonePtr(u.CompletedAt)
	return u
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type memClinics struct{ s *MemoryStore }

func (r memClinics) Get(_ context.Context, id string) (*domain.Clinic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.clinics[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r memClinics) sorted() []domain.Clinic {
	out := make([]domain.Clinic, 0, len(r.s.clinics))
	for _, c := range r.s.clinics {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r memClinics) FindByName(_ context.Context, name string) (*domain.Clinic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.clinics {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r memClinics) FindContaining(_ context.Context, fragment string) (*domain.Clinic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	needle := strings.ToLower(fragment)
	for _, c := range r.sorted() {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r memClinics) Create(_ context.Context, clinic *domain.Clinic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.clinics {
		if c.Name == clinic.Name {
			return fmt.Errorf("clinic %q: %w", clinic.Name, ErrConflict)
		}
	}
	if clinic.ID == "" {
		clinic.ID = uuid.NewString()
	}
	now := r.s.now().UTC()
	clinic.CreatedAt, clinic.UpdatedAt = now, now
	r.s.clinics[clinic.ID] = *clinic
	return nil
}

type memRecords struct{ s *MemoryStore }

func (r memRecords) Get(_ context.Context, key domain.RecordKey) (*domain.FinancialRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec = cloneRecord(rec)
	return &rec, nil
}

func (r memRecords) Upsert(_ context.Context, record *domain.FinancialRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.records[record.Key()] = r.s.prepareRecord(record)
	return nil
}

func (s *MemoryStore) prepareRecord(record *domain.FinancialRecord) domain.FinancialRecord {
	now := s.now().UTC()
	if existing, ok := s.records[record.Key()]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.CreatedAt = now
	}
	if record.LineItems == nil {
		record.LineItems = domain.LineItems{}
	}
	record.UpdatedAt = now
	record.Totals = record.LineItems.Totals()
	return cloneRecord(*record)
}

type memVersions struct{ s *MemoryStore }

func (r memVersions) Get(_ context.Context, id string) (*domain.DataVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	v = cloneVersion(v)
	return &v, nil
}

func (r memVersions) Latest(_ context.Context, key domain.RecordKey) (*domain.DataVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.latestLocked(key, nil)
}

func (s *MemoryStore) latestLocked(key domain.RecordKey, pending []domain.DataVersion) (*domain.DataVersion, error) {
	var latest *domain.DataVersion
	consider := func(v domain.DataVersion) {
		if v.Key() == key && (latest == nil || v.Version > latest.Version) {
			c := cloneVersion(v)
			latest = &c
		}
	}
	for _, v := range s.versions {
		consider(v)
	}
	for _, v := range pending {
		consider(v)
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (r memVersions) Create(_ context.Context, v *domain.DataVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, err := r.s.prepareVersion(v, nil)
	if err != nil {
		return err
	}
	r.s.versions[stored.ID] = stored
	return nil
}

func (s *MemoryStore) prepareVersion(v *domain.DataVersion, pending []domain.DataVersion) (domain.DataVersion, error) {
	for _, existing := range s.versions {
		if existing.Key() == v.Key() && existing.Version == v.Version {
			return domain.DataVersion{}, fmt.Errorf("version %d of %s: %w", v.Version, v.Key(), ErrConflict)
		}
	}
	for _, existing := range pending {
		if existing.Key() == v.Key() && existing.Version == v.Version {
			return domain.DataVersion{}, fmt.Errorf("version %d of %s: %w", v.Version, v.Key(), ErrConflict)
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.LineItems == nil {
		v.LineItems = domain.LineItems{}
	}
	v.Totals = v.LineItems.Totals()
	v.CreatedAt = s.now().UTC()
	return cloneVersion(*v), nil
}

func (r memVersions) List(_ context.Context, filter VersionFilter) ([]domain.DataVersion, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.DataVersion
	for _, v := range r.s.versions {
		if filter.ClinicID != "" && v.ClinicID != filter.ClinicID {
			continue
		}
		if filter.Year != 0 && v.Year != filter.Year {
			continue
		}
		if filter.Month != 0 && v.Month != filter.Month {
			continue
		}
		matched = append(matched, cloneVersion(v))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Version > matched[j].Version
	})
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func page[T any](items []T, limit, offset int) []T {
	limit, offset = NormalizePage(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type memKeyTx struct {
	store    *MemoryStore
	records  []domain.FinancialRecord
	versions []domain.DataVersion
}

func (t *memKeyTx) Records() RecordRepository   { return memTxRecords{t} }
func (t *memKeyTx) Versions() VersionRepository { return memTxVersions{t} }

type memTxRecords struct{ t *memKeyTx }

func (r memTxRecords) Get(ctx context.Context, key domain.RecordKey) (*domain.FinancialRecord, error) {
	for i := len(r.t.records) - 1; i >= 0; i-- {
		if r.t.records[i].Key() == key {
			rec := cloneRecord(r.t.records[i])
			return &rec, nil
		}
	}
	return memRecords{r.t.store}.Get(ctx, key)
}

func (r memTxRecords) Upsert(_ context.Context, record *domain.FinancialRecord) error {
	s := r.t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	r.t.records = append(r.t.records, s.prepareRecord(record))
	return nil
}

type memTxVersions struct{ t *memKeyTx }

func (r memTxVersions) Get(ctx context.Context, id string) (*domain.DataVersion, error) {
	for _, v := range r.t.versions {
		if v.ID == id {
			c := cloneVersion(v)
			return &c, nil
		}
	}
	return memVersions{r.t.store}.Get(ctx, id)
}

func (r memTxVersions) Latest(_ context.Context, key domain.RecordKey) (*domain.DataVersion, error) {
	s := r.t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(key, r.t.versions)
}

func (r memTxVersions) Create(_ context.Context, v *domain.DataVersion) error {
	s := r.t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, err := s.prepareVersion(v, r.t.versions)
	if err != nil {
		return err
	}
	r.t.versions = append(r.t.versions, stored)
	return nil
}

func (r memTxVersions) List(ctx context.Context, filter VersionFilter) ([]domain.DataVersion, int, error) {
	return memVersions{r.t.store}.List(ctx, filter)
}

type memUploads struct{ s *MemoryStore }

func (r memUploads) Create(_ context.Context, u *domain.UploadHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = domain.UploadStatusPending
	}
	now := r.s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.uploads[u.ID] = cloneUpload(*u)
	return nil
}

func (r memUploads) Get(_ context.Context, id string) (*domain.UploadHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	u = cloneUpload(u)
	return &u, nil
}

func (r memUploads) List(_ context.Context, filter UploadFilter) ([]domain.UploadHistory, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []domain.UploadHistory
	for _, u := range r.s.uploads {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneUpload(u))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (r memUploads) Update(_ context.Context, u *domain.UploadHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.uploads[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.UpdatedAt = r.s.now().UTC()
	u.CreatedAt = existing.CreatedAt
	r.s.uploads[u.ID] = cloneUpload(*u)
	return nil
}

func (r memUploads) Claim(_ context.Context, id string) (*domain.UploadHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok || u.Status != domain.UploadStatusPending {
		return nil, ErrConflict
	}
	now := r.s.now().UTC()
	u.Status = domain.UploadStatusProcessing
	u.StartedAt = &now
	u.UpdatedAt = now
	r.s.uploads[id] = u
	out := cloneUpload(u)
	return &out, nil
}

func (r memUploads) FailProcessing(_ context.Context, message string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now().UTC()
	n := 0
	for id, u := range r.s.uploads {
		if u.Status != domain.UploadStatusProcessing {
			continue
		}
		u = cloneUpload(u)
		u.Status = domain.UploadStatusFailed
		u.Errors = append(u.Errors, domain.UploadError{Kind: domain.UploadErrorFatal, Message: message})
		u.CompletedAt = &now
		u.UpdatedAt = now
		r.s.uploads[id] = u
		n++
	}
	return n, nil
}

func (r memUploads) PendingIDs(_ context.Context, olderThan time.Time) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var pending []domain.UploadHistory
	for _, u := range r.s.uploads {
		if u.Status == domain.UploadStatusPending && !u.CreatedAt.After(olderThan) {
			pending = append(pending, u)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	ids := make([]string, len(pending))
	for i, u := range pending {
		ids[i] = u.ID
	}
	return ids, nil
}

func (r memUploads) MarkDeleted(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok {
		return ErrNotFound
	}
	switch u.Status {
	case domain.UploadStatusDeleted:
		return nil
	case domain.UploadStatusPending, domain.UploadStatusProcessing:
		return ErrConflict
	}
	u.Status = domain.UploadStatusDeleted
	u.UpdatedAt = r.s.now().UTC()
	r.s.uploads[id] = u
	return nil
}
