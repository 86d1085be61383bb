package service

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/validation"

	"github.com/google/uuid"
)

// BindingCache drops a cached device binding once it stops being valid.
type BindingCache interface {
	Forget(deviceID string)
}

type DeviceService struct {
	repo      repository.DeviceRepository
	bindings  BindingCache
	validator *validation.Validator
	now       func() time.Time
}

func NewDeviceService(repo repository.DeviceRepository, bindings BindingCache, validator *validation.Validator) *DeviceService {
	return &DeviceService{
		repo:      repo,
		bindings:  bindings,
		validator: validator,
		now:       time.Now,
	}
}

// Register binds a device to userID. Registering an id the user already
// owns returns the existing device, so clients may call it on every start.
func (s *DeviceService) Register(ctx context.Context, userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	deviceID := req.ID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	now := s.now().UTC()

	device := &domain.Device{
		ID:         deviceID,
		UserID:     userID,
		Name:       req.Name,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		LastActive: now,
		CreatedAt:  now,
		IsRevoked:  false,
	}

	err := s.repo.Create(ctx, device)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, findErr := s.repo.FindByID(ctx, deviceID)
		if findErr != nil {
			return nil, domain.StorageError("failed to read device", findErr)
		}
		if existing.UserID != userID || existing.IsRevoked {
			return nil, domain.NewSyncError(domain.CodeDeviceNotBound, "device id is bound elsewhere or revoked", nil)
		}
		return existing.Response(), nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to register device", err)
	}

	return device.Response(), nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, domain.StorageError("failed to list devices", err)
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, d.Response())
	}

	return responses, nil
}

// Revoke unbinds a device. Its sync token stops working at the next
// session because the binding check runs first.
func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	device, err := s.repo.FindByID(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NewSyncError(domain.CodeNotFound, "device not found", nil)
	}
	if err != nil {
		return domain.StorageError("failed to read device", err)
	}

	if device.UserID != userID {
		return domain.NewSyncError(domain.CodeNotFound, "device not found", nil)
	}

	if err := s.repo.Revoke(ctx, deviceID); err != nil {
		return domain.StorageError("failed to revoke device", err)
	}
	s.bindings.Forget(deviceID)
	return nil
}

func (s *DeviceService) UpdateLastActive(ctx context.Context, deviceID string) error {
	return s.repo.UpdateLastActive(ctx, deviceID, s.now().UTC())
}
