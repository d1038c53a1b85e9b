// Package service binds participants to the access point they send through.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"peppolrelay/internal/gateway"
	"peppolrelay/internal/registry/models"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/sentinel"
	"peppolrelay/pkg/platform/tx"
)

type Store interface {
	FindByPeppolID(ctx context.Context, peppolID string) (*models.Entry, error)
	Save(ctx context.Context, entry *models.Entry) error
	Delete(ctx context.Context, peppolID string) error
}

// Gateways resolves an access point to its active gateway.
type Gateways interface {
	Get(ap domain.AccessPoint) (gateway.Gateway, bool)
	Resolve(ap domain.AccessPoint) (gateway.Gateway, error)
}

type Service struct {
	store    Store
	gateways Gateways
	tx       tx.Runner
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, gateways Gateways, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gateways: gateways,
		tx:       runner,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds peppolID to ap. A participant bound elsewhere is first
// unregistered there; that call is best-effort. When the new registration
// fails the local entry keeps its prior state.
func (s *Service) Register(ctx context.Context, peppolID string, ap domain.AccessPoint, req models.RegisterRequest) (*models.Entry, error) {
	peppolID = strings.TrimSpace(peppolID)
	if peppolID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "peppol id is required")
	}
	if ap == "" {
		ap = domain.AccessPointNone
	}
	if !ap.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown access point "+ap.String())
	}
	if ap == domain.AccessPointLoopback {
		return nil, dErrors.New(dErrors.CodeBadRequest, "access point LOOPBACK cannot be selected")
	}

	var entry *models.Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.loadOrNew(ctx, peppolID)
		if err != nil {
			return err
		}
		now := s.now()

		if entry.IsBound() && entry.AccessPoint != ap {
			s.unregisterRemote(ctx, entry)
			entry.Unbind(now)
		}

		if !ap.IsNone() {
			gw, err := s.gateways.Resolve(ap)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeBadRequest, "access point "+ap.String()+" is not active")
			}
			vars, err := gw.Register(ctx, peppolID, gateway.RegistrationRequest{
				Name:     req.Name,
				Language: req.Language,
				Country:  req.Country,
			})
			if err != nil {
				s.logger.ErrorContext(ctx, "registration failed",
					"peppol_id", peppolID,
					"access_point", ap,
					"error", err,
				)
				return translateGatewayError(err, "registration")
			}
			entry.Bind(ap, vars, now)
		}

		entry.UpdatedOn = now
		if err := s.store.Save(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "participant registered",
		"peppol_id", peppolID,
		"access_point", entry.AccessPoint,
	)
	return entry, nil
}

// Unregister unbinds the participant and keeps its entry with NONE.
func (s *Service) Unregister(ctx context.Context, peppolID string) (*models.Entry, error) {
	var entry *models.Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.suspend(ctx, peppolID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove unregisters the participant and deletes its entry.
func (s *Service) Remove(ctx context.Context, peppolID string) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.suspend(ctx, peppolID); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, peppolID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete registry entry")
		}
		s.logger.InfoContext(ctx, "participant removed from registry", "peppol_id", peppolID)
		return nil
	})
}

func (s *Service) Get(ctx context.Context, peppolID string) (*models.Entry, error) {
	entry, err := s.store.FindByPeppolID(ctx, peppolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry entry")
	}
	return entry, nil
}

// AccessPoint returns the bound access point; a participant without an entry
// is bound to NONE.
func (s *Service) AccessPoint(ctx context.Context, peppolID string) (domain.AccessPoint, error) {
	entry, err := s.store.FindByPeppolID(ctx, peppolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.AccessPointNone, nil
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry entry")
	}
	if entry.AccessPoint == "" {
		return domain.AccessPointNone, nil
	}
	return entry.AccessPoint, nil
}

// Variables returns the registration state of the bound gateway.
func (s *Service) Variables(ctx context.Context, peppolID string) (gateway.Variables, error) {
	entry, err := s.Get(ctx, peppolID)
	if err != nil {
		return nil, err
	}
	return entry.Variables, nil
}

func (s *Service) suspend(ctx context.Context, peppolID string) (*models.Entry, error) {
	entry, err := s.store.FindByPeppolID(ctx, peppolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry entry")
	}
	if entry.IsBound() {
		s.unregisterRemote(ctx, entry)
	}
	entry.Unbind(s.now())
	if err := s.store.Save(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry entry")
	}
	s.logger.InfoContext(ctx, "participant unregistered", "peppol_id", peppolID)
	return entry, nil
}

func (s *Service) loadOrNew(ctx context.Context, peppolID string) (*models.Entry, error) {
	entry, err := s.store.FindByPeppolID(ctx, peppolID)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.NewEntry(peppolID, s.now()), nil
	}
	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry entry")
}

// unregisterRemote never fails: an orphaned remote registration is logged and
// the local binding is freed regardless.
func (s *Service) unregisterRemote(ctx context.Context, entry *models.Entry) {
	gw, ok := s.gateways.Get(entry.AccessPoint)
	if !ok {
		s.logger.WarnContext(ctx, "cannot unregister from inactive access point",
			"peppol_id", entry.PeppolID,
			"access_point", entry.AccessPoint,
		)
		return
	}
	if err := gw.Unregister(ctx, entry.PeppolID, entry.Variables); err != nil {
		s.logger.ErrorContext(ctx, "unregister failed, remote registration may be orphaned",
			"peppol_id", entry.PeppolID,
			"access_point", entry.AccessPoint,
			"error", err,
		)
	}
}

func translateGatewayError(err error, op string) error {
	switch gateway.CategoryOf(err) {
	case gateway.ErrorAlreadyRegistered:
		return dErrors.Wrap(err, dErrors.CodeConflict, "participant is already registered at another access point")
	case gateway.ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeBadGateway, op+" failed at access point")
	}
}
