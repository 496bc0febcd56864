package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/meter"
)

// MaxIdentifierLength bounds device_id and name, matching the VARCHAR(100) columns
const MaxIdentifierLength = 100

var (
	// ErrDeviceNotFound is returned when no device has the requested device_id
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists is returned when creating a device whose device_id is taken
	ErrDeviceExists = errors.New("device already exists")
	// ErrInvalidDevice is returned when a device to create fails validation
	ErrInvalidDevice = errors.New("invalid device")
)

// validateDevice applies the same rules on every driver: a non-empty device_id
// and optional name of at most MaxIdentifierLength characters, and a positive factor.
func validateDevice(device *db.Device) error {
	if device.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidDevice)
	}
	if n := utf8.RuneCountInString(device.DeviceID); n > MaxIdentifierLength {
		return fmt.Errorf("%w: device_id is %d characters, max %d", ErrInvalidDevice, n, MaxIdentifierLength)
	}
	if device.Name != nil {
		if n := utf8.RuneCountInString(*device.Name); n > MaxIdentifierLength {
			return fmt.Errorf("%w: name is %d characters, max %d", ErrInvalidDevice, n, MaxIdentifierLength)
		}
	}
	if err := meter.ValidateFactor(device.PulseToLiter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	return nil
}

// Store is the telemetry write path used by ingestion
type Store interface {
	FindDevice(ctx context.Context, deviceID string) (*db.Device, error)
	UpdateLastSeen(ctx context.Context, device *db.Device, at time.Time) error
	CreateLog(ctx context.Context, device *db.Device, count int64, liters float64, at time.Time) (*db.WaterLog, error)
	OwnersOf(ctx context.Context, device *db.Device) ([]string, error)
	// InTx runs fn against a store bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Catalog covers device registration and the read side used by status views
type Catalog interface {
	CreateDevice(ctx context.Context, device *db.Device, owners ...string) error
	// AddOwner reports whether the ownership edge was newly created
	AddOwner(ctx context.Context, deviceID, userID string) (bool, error)
	DevicesOwnedBy(ctx context.Context, userID string) ([]db.Device, error)
	// RecentLogs returns at most limit logs of the given devices, newest first
	RecentLogs(ctx context.Context, devicePKs []int64, limit int) ([]db.WaterLog, error)
}

// Backend is a complete store driver
type Backend interface {
	Store
	Catalog
	Close() error
}
