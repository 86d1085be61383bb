package domain

import "time"

type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	AppVersion string    `json:"app_version"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	IsRevoked  bool      `json:"is_revoked"`
}

// RegisterDeviceRequest binds a device to the caller. Clients that already
// generated a device id offline send it in ID; otherwise one is assigned.
type RegisterDeviceRequest struct {
	ID         string `json:"id" validate:"omitempty,max=128"`
	Name       string `json:"name" validate:"required"`
	Platform   string `json:"platform" validate:"required,oneof=ios android web desktop"`
	AppVersion string `json:"app_version" validate:"required"`
}

type DeviceResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	LastActive time.Time `json:"last_active"`
	IsRevoked  bool      `json:"is_revoked"`
}

func (d *Device) Response() *DeviceResponse {
	return &DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   d.Platform,
		LastActive: d.LastActive,
		IsRevoked:  d.IsRevoked,
	}
}
