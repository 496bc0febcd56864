package db

import (
	"time"
)

// Device represents a pulse-counting water meter in the database
type Device struct {
	ID           int64      `gorm:"primaryKey"`
	DeviceID     string     `gorm:"column:device_id;size:100;uniqueIndex;not null"`
	Name         *string    `gorm:"size:100"`
	PulseToLiter float64    `gorm:"column:pulse_to_liter;not null;default:650"`
	LastSeen     *time.Time `gorm:"column:last_seen"`
}

// TableName pins the table name shared with the Postgres schema
func (Device) TableName() string { return "devices" }

// DeviceOwner is the ownership edge between a device and a user
type DeviceOwner struct {
	DevicePK int64  `gorm:"column:device_pk;primaryKey;autoIncrement:false"`
	UserID   string `gorm:"column:user_id;primaryKey;size:64;index"`
	Device   Device `gorm:"foreignKey:DevicePK;references:ID;constraint:OnDelete:CASCADE"`
}

func (DeviceOwner) TableName() string { return "device_owners" }

// WaterLog is an immutable snapshot of one accepted telemetry event
type WaterLog struct {
	ID        int64     `gorm:"primaryKey"`
	DevicePK  int64     `gorm:"column:device_pk;not null;index:idx_water_logs_device_created,priority:1"`
	Device    Device    `gorm:"foreignKey:DevicePK;references:ID;constraint:OnDelete:CASCADE"`
	Count     int64     `gorm:"not null"`
	Liters    float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_water_logs_device_created,priority:2"`
}

func (WaterLog) TableName() string { return "water_logs" }
