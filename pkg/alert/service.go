package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// DefaultCooldownMinutes is applied by callers that do not specify a
// cooldown window.
const DefaultCooldownMinutes = 60

// ErrInvalidAlert is returned when an alert configuration fails validation.
var ErrInvalidAlert = errors.New("invalid alert")

var validate = validator.New()

// Service manages alert configurations.
type Service interface {
	Create(ctx context.Context, a *store.AlertConfig) error
	Get(ctx context.Context, id string) (*store.AlertConfig, error)
	// Update replaces the configuration but keeps the trigger history.
	Update(ctx context.Context, a *store.AlertConfig) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter store.AlertFilter) ([]store.AlertConfig, error)
	Enable(ctx context.Context, id string) (*store.AlertConfig, error)
	Disable(ctx context.Context, id string) (*store.AlertConfig, error)
}

type service struct {
	log   logrus.FieldLogger
	store store.Store
}

// Ensure interface compliance.
var _ Service = (*service)(nil)

// NewService creates an alert configuration service.
func NewService(log logrus.FieldLogger, st store.Store) Service {
	return &service{
		log:   log.WithField("component", "alert-service"),
		store: st,
	}
}

// Validate checks an alert configuration.
func Validate(a *store.AlertConfig) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAlert, err)
	}

	for _, ch := range a.Channels {
		if ch == store.ChannelEmail && len(a.Recipients) == 0 {
			return fmt.Errorf("%w: EMAIL channel requires at least one recipient", ErrInvalidAlert)
		}
	}

	return nil
}

func (s *service) Create(ctx context.Context, a *store.AlertConfig) error {
	if err := Validate(a); err != nil {
		return err
	}

	a.LastTriggeredAt = nil

	if err := s.store.CreateAlert(ctx, a); err != nil {
		return fmt.Errorf("creating alert: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"alert_id":     a.ID,
		"benchmark_id": a.BenchmarkID,
		"kpi":          a.KPIName,
	}).Info("Created alert")

	return nil
}

func (s *service) Get(ctx context.Context, id string) (*store.AlertConfig, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *service) Update(ctx context.Context, a *store.AlertConfig) error {
	if err := Validate(a); err != nil {
		return err
	}

	existing, err := s.store.GetAlert(ctx, a.ID)
	if err != nil {
		return err
	}

	a.CreatedAt = existing.CreatedAt
	a.LastTriggeredAt = existing.LastTriggeredAt

	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}

	s.log.WithField("alert_id", a.ID).Info("Updated alert")

	return nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAlert(ctx, id); err != nil {
		return err
	}

	s.log.WithField("alert_id", id).Info("Deleted alert")

	return nil
}

func (s *service) List(ctx context.Context, filter store.AlertFilter) ([]store.AlertConfig, error) {
	return s.store.ListAlerts(ctx, filter)
}

func (s *service) Enable(ctx context.Context, id string) (*store.AlertConfig, error) {
	return s.setEnabled(ctx, id, true)
}

func (s *service) Disable(ctx context.Context, id string) (*store.AlertConfig, error) {
	return s.setEnabled(ctx, id, false)
}

func (s *service) setEnabled(ctx context.Context, id string, enabled bool) (*store.AlertConfig, error) {
	if err := s.store.UpdateAlertFields(ctx, id, map[string]any{"enabled": enabled}); err != nil {
		return nil, fmt.Errorf("updating alert: %w", err)
	}

	a, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"alert_id": id,
		"enabled":  enabled,
	}).Info("Alert toggled")

	return a, nil
}
