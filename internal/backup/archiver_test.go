package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peppolrelay/internal/document/models"
	"peppolrelay/pkg/domain"
)

func newArchiver(t *testing.T) *Archiver {
	t.Helper()
	a, err := New(t.TempDir(), "peppol-relay",
		WithLocation(time.UTC),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return a
}

func newDoc() *models.Document {
	return &models.Document{
		ID:        uuid.MustParse("7f1c1d7e-3d0c-4b84-a0c4-6c3d3fe0b6a1"),
		Direction: domain.DirectionOutgoing,
		OwnerID:   "0208:0123456789",
		CreatedOn: time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC),
		Payload:   models.Ptr("<Invoice/>"),
	}
}

func TestPathLayout(t *testing.T) {
	a := newArchiver(t)
	doc := newDoc()

	want := filepath.Join(a.dataDir, "backup", "peppol-relay", "0208_0123456789", "OUTGOING",
		"2025", "3", "7f1c1d7e-3d0c-4b84-a0c4-6c3d3fe0b6a1.ubl")
	assert.Equal(t, want, a.Path(doc))
}

func TestWriteThenClear(t *testing.T) {
	a := newArchiver(t)
	doc := newDoc()
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, doc))
	content, err := a.Read(doc)
	require.NoError(t, err)
	assert.Equal(t, "<Invoice/>", content)

	require.NoError(t, a.Clear(ctx, doc))
	content, err = a.Read(doc)
	require.NoError(t, err)
	assert.Equal(t, NoArchiveContent, content)
}

func TestReconcileRestoresMissingFiles(t *testing.T) {
	a := newArchiver(t)
	ctx := context.Background()

	present := newDoc()
	require.NoError(t, a.Write(ctx, present))

	missing := newDoc()
	missing.ID = uuid.New()
	cleared := newDoc()
	cleared.ID = uuid.New()
	cleared.Payload = nil

	restored, err := a.Reconcile(ctx, []*models.Document{present, missing, cleared})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	_, err = os.Stat(a.Path(missing))
	assert.NoError(t, err)
	_, err = os.Stat(a.Path(cleared))
	assert.True(t, os.IsNotExist(err))
}

func TestNewDefaultsDataDir(t *testing.T) {
	a, err := New("  ", "relay")
	require.NoError(t, err)
	assert.Equal(t, os.TempDir(), a.dataDir)

	_, err = New("/tmp", "")
	assert.Error(t, err)
}
