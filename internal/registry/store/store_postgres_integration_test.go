//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"peppolrelay/internal/registry/models"
	"peppolrelay/internal/registry/store"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
	"peppolrelay/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	runner   *tx.SQLRunner
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.runner = tx.NewSQLRunner(s.postgres.DB, 5*time.Second)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "registry"))
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := models.NewEntry("0208:0123456789", now)
	entry.Bind(domain.AccessPointEInvoice, map[string]string{"tenantId": "t-1", "key": "secret"}, now)
	s.Require().NoError(s.store.Save(ctx, entry))

	got, err := s.store.FindByPeppolID(ctx, "0208:0123456789")
	s.Require().NoError(err)
	s.Equal(domain.AccessPointEInvoice, got.AccessPoint)
	s.Equal("t-1", got.Variables["tenantId"])
	s.True(got.CreatedOn.Equal(now))
}

func (s *PostgresStoreSuite) TestUnbindClearsVariables() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := models.NewEntry("0208:0123456789", now)
	entry.Bind(domain.AccessPointScrada, map[string]string{"uuid": "u-1"}, now)
	s.Require().NoError(s.store.Save(ctx, entry))

	entry.Unbind(now.Add(time.Minute))
	s.Require().NoError(s.store.Save(ctx, entry))

	got, err := s.store.FindByPeppolID(ctx, "0208:0123456789")
	s.Require().NoError(err)
	s.Equal(domain.AccessPointNone, got.AccessPoint)
	s.Nil(got.Variables)
}

func (s *PostgresStoreSuite) TestDeleteInsideTransaction() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, models.NewEntry("0208:0123456789", time.Now().UTC())))

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.FindByPeppolID(ctx, "0208:0123456789"); err != nil {
			return err
		}
		return s.store.Delete(ctx, "0208:0123456789")
	})
	s.Require().NoError(err)

	_, err = s.store.FindByPeppolID(ctx, "0208:0123456789")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, "0208:0123456789"), sentinel.ErrNotFound)
}
