// Package collaborator holds the clients for services the sync server
// consults but does not own: identity, the quiz catalog and the
// gamification ledger.
package collaborator

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/repository"

	"github.com/patrickmn/go-cache"
)

type IdentityLookup interface {
	DeviceBelongsTo(ctx context.Context, userID, deviceID string) (bool, error)
}

// DeviceIdentity answers from the device registry. Only positive answers
// are cached so a freshly registered device is usable at once; Forget must
// be called when a binding is revoked.
type DeviceIdentity struct {
	devices repository.DeviceRepository
	cache   *cache.Cache
}

func NewDeviceIdentity(devices repository.DeviceRepository, ttl time.Duration) *DeviceIdentity {
	return &DeviceIdentity{
		devices: devices,
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (d *DeviceIdentity) DeviceBelongsTo(ctx context.Context, userID, deviceID string) (bool, error) {
	if owner, ok := d.cache.Get(deviceID); ok {
		return owner.(string) == userID, nil
	}

	device, err := d.devices.FindByID(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if device.IsRevoked {
		return false, nil
	}

	d.cache.SetDefault(deviceID, device.UserID)
	return device.UserID == userID, nil
}

func (d *DeviceIdentity) Forget(deviceID string) {
	d.cache.Delete(deviceID)
}
