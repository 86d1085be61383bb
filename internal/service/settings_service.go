package service

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/validation"
)

type SettingsService struct {
	repo           repository.SettingsRepository
	validator      *validation.Validator
	defaultCadence time.Duration
	now            func() time.Time
}

func NewSettingsService(repo repository.SettingsRepository, validator *validation.Validator, defaultCadence time.Duration) *SettingsService {
	return &SettingsService{
		repo:           repo,
		validator:      validator,
		defaultCadence: defaultCadence,
		now:            time.Now,
	}
}

// Get returns the user's settings, or the defaults when none were saved.
func (s *SettingsService) Get(ctx context.Context, userID string) (*domain.SyncSettings, error) {
	settings, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.defaults(userID), nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to read sync settings", err)
	}
	if settings.PolicyOverrides == nil {
		settings.PolicyOverrides = map[domain.EntityType]domain.Strategy{}
	}
	return settings, nil
}

func (s *SettingsService) defaults(userID string) *domain.SyncSettings {
	return &domain.SyncSettings{
		UserID:          userID,
		CadenceSeconds:  int(s.defaultCadence / time.Second),
		AutoSync:        true,
		PolicyOverrides: map[domain.EntityType]domain.Strategy{},
	}
}

// Update applies the fields present in req. An override set to "default"
// removes the entry for that type. Overrides only change the outcome for
// exclusive types; append-only and additive types never pick a winner.
func (s *SettingsService) Update(ctx context.Context, userID string, req *domain.UpdateSettingsRequest) (*domain.SyncSettings, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	for t := range req.PolicyOverrides {
		if !t.Valid() {
			return nil, domain.ValidationError("unknown entity_type %q", t)
		}
	}

	settings, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.CadenceSeconds != nil {
		settings.CadenceSeconds = *req.CadenceSeconds
	}
	if req.AutoSync != nil {
		settings.AutoSync = *req.AutoSync
	}
	for t, strategy := range req.PolicyOverrides {
		if strategy == domain.StrategyDefault {
			delete(settings.PolicyOverrides, t)
			continue
		}
		settings.PolicyOverrides[t] = strategy
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, domain.StorageError("failed to save sync settings", err)
	}
	return settings, nil
}
