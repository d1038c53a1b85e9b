package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peppolrelay/internal/applink/models"
	"peppolrelay/internal/applink/store"
	dErrors "peppolrelay/pkg/domain-errors"
)

type failingStore struct {
	*store.InMemoryStore
}

func (failingStore) FindPeppolIDs(context.Context, uuid.UUID) ([]string, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) Save(context.Context, models.Link) error {
	return errors.New("connection reset")
}

func newService(s Store) *Service {
	return New(s, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestAddAndRemove(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewInMemory())
	app := uuid.New()

	require.NoError(t, svc.Add(ctx, "0208:1", app))
	require.NoError(t, svc.Add(ctx, " 0208:2 ", app))

	ids, err := svc.LinkedParticipants(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, []string{"0208:1", "0208:2"}, ids)

	linked, err := svc.IsLinked(ctx, "0208:2", app)
	require.NoError(t, err)
	assert.True(t, linked)

	require.NoError(t, svc.Remove(ctx, "0208:2", app))
	linked, err = svc.IsLinked(ctx, "0208:2", app)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewInMemory())

	err := svc.Add(ctx, "", uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	err = svc.Remove(ctx, "0208:1", uuid.Nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestStoreFailuresAreInternal(t *testing.T) {
	ctx := context.Background()
	svc := newService(failingStore{store.NewInMemory()})

	err := svc.Add(ctx, "0208:1", uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = svc.LinkedParticipants(ctx, uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
