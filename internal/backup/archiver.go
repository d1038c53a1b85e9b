// Package backup keeps a file copy of every relayed payload outside the
// database.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"peppolrelay/internal/document/models"
)

// NoArchiveContent replaces the payload once a no-archive document is cleared.
const NoArchiveContent = "No Archive"

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Archiver writes payloads to
// <dataDir>/backup/<app>/<owner>/<DIRECTION>/<year>/<month>/<id>.ubl.
type Archiver struct {
	dataDir  string
	appName  string
	location *time.Location
	logger   *slog.Logger
}

type Option func(*Archiver)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// WithLocation sets the zone used to derive the year/month folders from the
// creation instant. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *Archiver) {
		a.location = loc
	}
}

func New(dataDir, appName string, opts ...Option) (*Archiver, error) {
	if appName == "" {
		return nil, errors.New("app name is required")
	}
	if strings.TrimSpace(dataDir) == "" {
		dataDir = os.TempDir()
	}
	a := &Archiver{
		dataDir:  dataDir,
		appName:  appName,
		location: time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Path returns the archive location of doc.
func (a *Archiver) Path(doc *models.Document) string {
	created := doc.CreatedOn
	if created.IsZero() {
		created = time.Now()
	}
	created = created.In(a.location)
	return filepath.Join(
		a.dataDir,
		"backup",
		a.appName,
		strings.ReplaceAll(doc.OwnerID, ":", "_"),
		doc.Direction.String(),
		strconv.Itoa(created.Year()),
		strconv.Itoa(int(created.Month())),
		doc.ID.String()+".ubl",
	)
}

// Write stores the current payload of doc.
func (a *Archiver) Write(ctx context.Context, doc *models.Document) error {
	path := a.Path(doc)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("create backup folder: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc.PayloadText()), filePerm); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	a.logger.DebugContext(ctx, "payload archived", "document_id", doc.ID, "path", path)
	return nil
}

// Clear overwrites the archive file with NoArchiveContent.
func (a *Archiver) Clear(ctx context.Context, doc *models.Document) error {
	path := a.Path(doc)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("create backup folder: %w", err)
	}
	if err := os.WriteFile(path, []byte(NoArchiveContent), filePerm); err != nil {
		return fmt.Errorf("clear backup file: %w", err)
	}
	a.logger.DebugContext(ctx, "archive cleared", "document_id", doc.ID, "path", path)
	return nil
}

// Read returns the archived content of doc.
func (a *Archiver) Read(doc *models.Document) (string, error) {
	body, err := os.ReadFile(a.Path(doc))
	if err != nil {
		return "", fmt.Errorf("read backup file: %w", err)
	}
	return string(body), nil
}

// Reconcile rewrites the missing files of documents that still hold a
// payload, as left behind by a crash between the database write and the file
// write. It returns the number of files restored.
func (a *Archiver) Reconcile(ctx context.Context, docs []*models.Document) (int, error) {
	restored := 0
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		ok, err := a.reconcile(ctx, doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			restored++
		}
	}
	return restored, errors.Join(errs...)
}

func (a *Archiver) reconcile(ctx context.Context, doc *models.Document) (bool, error) {
	if doc.Payload == nil {
		return false, nil
	}
	_, err := os.Stat(a.Path(doc))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat backup of %s: %w", doc.ID, err)
	}
	if err := a.Write(ctx, doc); err != nil {
		return false, err
	}
	a.logger.WarnContext(ctx, "missing archive restored", "document_id", doc.ID)
	return true, nil
}
