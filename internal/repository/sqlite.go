package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/septivank/water-meter-relay/internal/db"
)

// SQLiteStore is the single-file store used for local runs and tests
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database file at path and migrates it
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to open sqlite database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to access sqlite handle: %w", err)
	}
	// SQLite allows a single writer; serialising here avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&db.Device{}, &db.DeviceOwner{}, &db.WaterLog{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("[DATABASE] failed to migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: gdb}, nil
}

// FindDevice resolves a device by its external identifier
func (s *SQLiteStore) FindDevice(ctx context.Context, deviceID string) (*db.Device, error) {
	var device db.Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return &device, nil
}

// UpdateLastSeen records that the device reported at the given time
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, device *db.Device, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&db.Device{}).Where("id = ?", device.ID).Update("last_seen", at)
	if result.Error != nil {
		return fmt.Errorf("failed to update device last_seen: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	device.LastSeen = &at
	return nil
}

// CreateLog appends a water log for the device
func (s *SQLiteStore) CreateLog(ctx context.Context, device *db.Device, count int64, liters float64, at time.Time) (*db.WaterLog, error) {
	log := &db.WaterLog{
		DevicePK:  device.ID,
		Count:     count,
		Liters:    liters,
		CreatedAt: at,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(log).Error; err != nil {
		return nil, fmt.Errorf("failed to insert water log: %w", err)
	}
	return log, nil
}

// OwnersOf lists the user ids that own the device
func (s *SQLiteStore) OwnersOf(ctx context.Context, device *db.Device) ([]string, error) {
	var owners []string
	err := s.db.WithContext(ctx).
		Model(&db.DeviceOwner{}).
		Where("device_pk = ?", device.ID).
		Order("user_id").
		Pluck("user_id", &owners).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query device owners: %w", err)
	}
	return owners, nil
}

// InTx runs fn inside a gorm transaction
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLiteStore{db: tx})
	})
}

// CreateDevice inserts a device and its initial owners
func (s *SQLiteStore) CreateDevice(ctx context.Context, device *db.Device, owners ...string) error {
	if err := validateDevice(device); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&db.Device{}).Where("device_id = ?", device.DeviceID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check device: %w", err)
		}
		if existing > 0 {
			return ErrDeviceExists
		}

		if err := tx.Create(device).Error; err != nil {
			return fmt.Errorf("failed to create device: %w", err)
		}

		for _, userID := range owners {
			if _, err := addOwner(tx, device.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddOwner links a user to an existing device
func (s *SQLiteStore) AddOwner(ctx context.Context, deviceID, userID string) (bool, error) {
	device, err := s.FindDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return addOwner(s.db.WithContext(ctx), device.ID, userID)
}

func addOwner(tx *gorm.DB, devicePK int64, userID string) (bool, error) {
	owner := db.DeviceOwner{DevicePK: devicePK, UserID: userID}
	result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&owner)
	if result.Error != nil {
		return false, fmt.Errorf("failed to add device owner: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// DevicesOwnedBy lists the devices a user owns, ordered by device_id
func (s *SQLiteStore) DevicesOwnedBy(ctx context.Context, userID string) ([]db.Device, error) {
	var devices []db.Device
	err := s.db.WithContext(ctx).
		Joins("JOIN device_owners ON device_owners.device_pk = devices.id").
		Where("device_owners.user_id = ?", userID).
		Order("devices.device_id").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query owned devices: %w", err)
	}
	return devices, nil
}

// RecentLogs returns the newest logs across the given devices
func (s *SQLiteStore) RecentLogs(ctx context.Context, devicePKs []int64, limit int) ([]db.WaterLog, error) {
	if len(devicePKs) == 0 || limit <= 0 {
		return nil, nil
	}

	var logs []db.WaterLog
	err := s.db.WithContext(ctx).
		Where("device_pk IN ?", devicePKs).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent logs: %w", err)
	}
	return logs, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
