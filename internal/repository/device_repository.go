package repository

import (
	"context"
	"fmt"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	List(ctx context.Context, userID string) ([]*domain.Device, error)
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	Revoke(ctx context.Context, deviceID string) error
	UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error
}

type deviceDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Device
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.Device) error {
	db := r.client.DB(r.dbName)

	doc := &deviceDoc{
		ID:      fmt.Sprintf("device:%s", device.ID),
		DocType: "device",
		Device:  *device,
	}
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		if translate(err) == ErrVersionMismatch {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "device",
			"user_id":  userID,
		},
	}

	var devices []*domain.Device
	err := findAll(ctx, db, query, func(rows *kivik.ResultSet) error {
		var doc deviceDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil // Skip malformed docs
		}
		d := doc.Device
		devices = append(devices, &d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	return devices, nil
}

func (r *deviceRepository) load(ctx context.Context, deviceID string) (*deviceDoc, error) {
	db := r.client.DB(r.dbName)

	var doc deviceDoc
	if err := db.Get(ctx, fmt.Sprintf("device:%s", deviceID)).ScanDoc(&doc); err != nil {
		if err := translate(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return &doc, nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	doc, err := r.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &doc.Device, nil
}

func (r *deviceRepository) Revoke(ctx context.Context, deviceID string) error {
	doc, err := r.load(ctx, deviceID)
	if err != nil {
		return err
	}

	doc.IsRevoked = true

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}

	return nil
}

func (r *deviceRepository) UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error {
	doc, err := r.load(ctx, deviceID)
	if err != nil {
		return err
	}

	doc.LastActive = at

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}

	return nil
}
