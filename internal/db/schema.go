package db

import (
	"context"
	"fmt"
)

// schema mirrors the tables AutoMigrate creates for the SQLite driver.
// Users live in the account service; user_id is an opaque reference.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id             BIGSERIAL PRIMARY KEY,
		device_id      VARCHAR(100) NOT NULL UNIQUE,
		name           VARCHAR(100),
		pulse_to_liter DOUBLE PRECISION NOT NULL DEFAULT 650.0 CHECK (pulse_to_liter > 0),
		last_seen      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS device_owners (
		device_pk BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		user_id   VARCHAR(64) NOT NULL,
		PRIMARY KEY (device_pk, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_owners_user_id ON device_owners (user_id)`,
	`CREATE TABLE IF NOT EXISTS water_logs (
		id         BIGSERIAL PRIMARY KEY,
		device_pk  BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		count      BIGINT NOT NULL CHECK (count >= 0),
		liters     DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_water_logs_device_created ON water_logs (device_pk, created_at DESC)`,
}

// EnsureSchema creates the relay tables if they do not exist
func EnsureSchema(ctx context.Context, pool *Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
		}
	}
	return nil
}
