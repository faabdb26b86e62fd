package versioning

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

type VersionStoreSuite struct {
	suite.Suite
	ctx     context.Context
	backend *storage.MemoryStore
	store   *Store
	clinic  *domain.Clinic
	key     domain.RecordKey
}

func (s *VersionStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = storage.NewMemoryStore()
	s.store = NewStore(s.backend, NewKeyLocker(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.clinic = &domain.Clinic{Name: "Katy", Active: true}
	s.Require().NoError(s.backend.Clinics().Create(s.ctx, s.clinic))
	s.key = domain.RecordKey{ClinicID: s.clinic.ID, Year: 2024, Month: 1}
}

func (s *VersionStoreSuite) income(amount int64) *domain.FinancialRecord {
	return &domain.FinancialRecord{
		ClinicID:  s.key.ClinicID,
		Year:      s.key.Year,
		Month:     s.key.Month,
		LineItems: domain.LineItems{domain.PracticeIncome: decimal.NewFromInt(amount)},
	}
}

func (s *VersionStoreSuite) liveIncome() string {
	rec, err := s.backend.Records().Get(s.ctx, s.key)
	s.Require().NoError(err)
	return rec.LineItems.Get(domain.PracticeIncome).String()
}

func (s *VersionStoreSuite) TestVersioningSequence() {
	snap, err := s.store.Write(s.ctx, s.income(100))
	s.Require().NoError(err)
	s.Nil(snap, "first insert has nothing to snapshot")
	s.Equal(0, s.backend.VersionCount(s.key))

	snap, err = s.store.Write(s.ctx, s.income(200))
	s.Require().NoError(err)
	s.Require().NotNil(snap)
	s.Equal(1, snap.Version)
	s.Nil(snap.PreviousVersionID)
	s.Equal("100", snap.LineItems.Get(domain.PracticeIncome).String())
	s.Equal(1, s.backend.VersionCount(s.key))
	s.Equal("200", s.liveIncome())

	result, err := s.store.Rollback(s.ctx, snap.ID)
	s.Require().NoError(err)
	s.Equal(&domain.RollbackResult{
		ClinicID: s.clinic.ID, ClinicName: "Katy", Year: 2024, Month: 1, Version: 1,
	}, result)
	s.Equal("100", s.liveIncome())
	s.Equal(2, s.backend.VersionCount(s.key))

	latest, err := s.backend.Versions().Latest(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(2, latest.Version)
	s.Equal(domain.VersionReasonRollback, latest.Reason)
	s.Equal("200", latest.LineItems.Get(domain.PracticeIncome).String())
	s.Require().NotNil(latest.PreviousVersionID)
	s.Equal(snap.ID, *latest.PreviousVersionID)
}

func (s *VersionStoreSuite) TestRollbackUnknownVersion() {
	_, err := s.store.Write(s.ctx, s.income(100))
	s.Require().NoError(err)

	_, err = s.store.Rollback(s.ctx, "missing-version")
	s.Require().Error(err)
	s.True(apperrors.IsNotFound(err))

	s.Equal("100", s.liveIncome())
	s.Equal(0, s.backend.VersionCount(s.key))
}

func (s *VersionStoreSuite) TestRollbackRecreatesDeletedRecord() {
	_, err := s.store.Write(s.ctx, s.income(100))
	s.Require().NoError(err)
	snap, err := s.store.Write(s.ctx, s.income(300))
	s.Require().NoError(err)

	s.backend.DeleteRecord(s.key)

	_, err = s.store.Rollback(s.ctx, snap.ID)
	s.Require().NoError(err)
	s.Equal("100", s.liveIncome())
	s.Equal(1, s.backend.VersionCount(s.key), "nothing live to snapshot")
}

func (s *VersionStoreSuite) TestUploadLinkedToSnapshot() {
	upload := "upload-1"
	_, err := s.store.Write(s.ctx, s.income(100))
	s.Require().NoError(err)

	rec := s.income(150)
	rec.UploadID = &upload
	snap, err := s.store.Write(s.ctx, rec)
	s.Require().NoError(err)
	s.Require().NotNil(snap.UploadID)
	s.Equal(upload, *snap.UploadID)
	s.Equal(domain.VersionReasonIngestion, snap.Reason)
}

func (s *VersionStoreSuite) TestConcurrentWritersKeepChainGapless() {
	_, err := s.store.Write(s.ctx, s.income(1))
	s.Require().NoError(err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.Write(s.ctx, s.income(int64(i+2)))
			assert.NoError(s.T(), err)
		}(i)
	}
	wg.Wait()

	versions, total, err := s.store.List(s.ctx, storage.VersionFilter{ClinicID: s.clinic.ID, Limit: 100})
	s.Require().NoError(err)
	s.Equal(writers, total)

	seen := make(map[int]bool)
	for _, v := range versions {
		seen[v.Version] = true
	}
	for n := 1; n <= writers; n++ {
		s.True(seen[n], "version %d missing", n)
	}
}

func (s *VersionStoreSuite) TestGet() {
	_, err := s.store.Write(s.ctx, s.income(1))
	s.Require().NoError(err)
	snap, err := s.store.Write(s.ctx, s.income(2))
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, snap.ID)
	s.Require().NoError(err)
	s.Equal(snap.ID, got.ID)

	_, err = s.store.Get(s.ctx, "nope")
	s.True(apperrors.IsNotFound(err))
}

func TestVersionStoreSuite(t *testing.T) {
	suite.Run(t, new(VersionStoreSuite))
}

func TestKeyLocker(t *testing.T) {
	l := NewKeyLocker()
	a := domain.RecordKey{ClinicID: "a", Year: 2024, Month: 1}
	b := domain.RecordKey{ClinicID: "b", Year: 2024, Month: 1}

	unlockA := l.Lock(a)
	unlockB := l.Lock(b)
	assert.Equal(t, 2, l.Len())

	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock(a)
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	default:
	}

	unlockA()
	<-acquired
	unlockB()
	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)
}
