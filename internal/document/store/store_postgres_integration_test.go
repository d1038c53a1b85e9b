//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/document/store"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
	"peppolrelay/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	runner   *tx.PgxRunner
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.Pool)
	s.runner = tx.NewPgxRunner(s.postgres.Pool, 5*time.Second)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "documents"))
}

func newOutgoing(payload string) *models.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Document{
		ID:          uuid.New(),
		Direction:   domain.DirectionOutgoing,
		Kind:        domain.DocumentKindInvoice,
		OwnerID:     "0208:0123456789",
		PartnerID:   "0208:9876543210",
		CreatedOn:   now,
		ScheduledOn: models.Ptr(now.Add(-time.Minute)),
		Payload:     models.Ptr(payload),
		Hash:        domain.Fingerprint(payload),
		UpdatedOn:   now,
	}
}

func (s *PostgresStoreSuite) TestRoundTripAndConflict() {
	ctx := context.Background()
	doc := newOutgoing("<Invoice>1</Invoice>")
	s.Require().NoError(s.store.Create(ctx, doc))

	found, err := s.store.FindByID(ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(doc.Hash, found.Hash)
	s.Nil(found.Gateway)

	dup := newOutgoing("<Invoice>1</Invoice>")
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	found.Claim(domain.AccessPointScrada, models.Ptr("trk-1"), time.Now())
	s.Require().NoError(s.store.Update(ctx, found))

	exists, err := s.store.ExistsByTrackingID(ctx, "trk-1")
	s.Require().NoError(err)
	s.True(exists)
}

// TestConcurrentClaimsNeverDoubleClaim runs competing claimers that each lock
// due rows with SKIP LOCKED; every document must be claimed exactly once.
func (s *PostgresStoreSuite) TestConcurrentClaimsNeverDoubleClaim() {
	ctx := context.Background()
	const docs = 20
	for i := 0; i < docs; i++ {
		s.Require().NoError(s.store.Create(ctx, newOutgoing(uuid.NewString())))
	}

	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var got bool
				err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
					due, err := s.store.FindDueOutgoing(ctx, time.Now(), 1)
					if err != nil || len(due) == 0 {
						return err
					}
					due[0].Claim(domain.AccessPointScrada, models.Ptr(uuid.NewString()), time.Now())
					got = true
					return s.store.Update(ctx, due[0])
				})
				if err != nil || !got {
					return
				}
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(docs), claimed.Load())
	remaining, err := s.store.FindDueOutgoing(ctx, time.Now(), docs)
	s.Require().NoError(err)
	s.Empty(remaining)
}

func (s *PostgresStoreSuite) TestSavepointKeepsTransactionUsable() {
	ctx := context.Background()
	existing := newOutgoing("<Invoice>1</Invoice>")
	s.Require().NoError(s.store.Create(ctx, existing))
	source := newOutgoing("<Invoice>2</Invoice>")
	s.Require().NoError(s.store.Create(ctx, source))

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dup := newOutgoing("<Invoice>1</Invoice>")
		err := tx.Savepoint(ctx, func(ctx context.Context) error {
			return s.store.Create(ctx, dup)
		})
		s.ErrorIs(err, sentinel.ErrConflict)

		doc, err := s.store.FindByID(ctx, source.ID)
		if err != nil {
			return err
		}
		doc.Claim(domain.AccessPointScrada, models.Ptr("trk-2"), time.Now())
		return s.store.Update(ctx, doc)
	})
	s.Require().NoError(err)

	stored, err := s.store.FindByID(ctx, source.ID)
	s.Require().NoError(err)
	s.True(stored.IsClaimed())
}
