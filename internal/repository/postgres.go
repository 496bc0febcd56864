package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/water-meter-relay/internal/db"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore handles database operations against PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a new store over the pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

const deviceColumns = `d.id, d.device_id, d.name, d.pulse_to_liter, d.last_seen`

func scanDevice(row pgx.Row, device *db.Device) error {
	return row.Scan(
		&device.ID,
		&device.DeviceID,
		&device.Name,
		&device.PulseToLiter,
		&device.LastSeen,
	)
}

// FindDevice resolves a device by its external identifier
func (r *PostgresStore) FindDevice(ctx context.Context, deviceID string) (*db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices d WHERE d.device_id = $1`

	var device db.Device
	if err := scanDevice(r.q.QueryRow(ctx, query, deviceID), &device); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return &device, nil
}

// UpdateLastSeen records that the device reported at the given time
func (r *PostgresStore) UpdateLastSeen(ctx context.Context, device *db.Device, at time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = $1
		WHERE id = $2
	`
	tag, err := r.q.Exec(ctx, query, at, device.ID)
	if err != nil {
		return fmt.Errorf("failed to update device last_seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	device.LastSeen = &at
	return nil
}

// CreateLog appends a water log for the device
func (r *PostgresStore) CreateLog(ctx context.Context, device *db.Device, count int64, liters float64, at time.Time) (*db.WaterLog, error) {
	query := `
		INSERT INTO water_logs (device_pk, count, liters, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	log := &db.WaterLog{
		DevicePK:  device.ID,
		Count:     count,
		Liters:    liters,
		CreatedAt: at,
	}
	if err := r.q.QueryRow(ctx, query, log.DevicePK, log.Count, log.Liters, log.CreatedAt).Scan(&log.ID); err != nil {
		return nil, fmt.Errorf("failed to insert water log: %w", err)
	}
	return log, nil
}

// OwnersOf lists the user ids that own the device
func (r *PostgresStore) OwnersOf(ctx context.Context, device *db.Device) ([]string, error) {
	query := `
		SELECT user_id
		FROM device_owners
		WHERE device_pk = $1
		ORDER BY user_id
	`

	rows, err := r.q.Query(ctx, query, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return owners, nil
}

// InTx runs fn inside a transaction. Calls on a store that is already
// transactional reuse the open transaction.
func (r *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateDevice inserts a device and its initial owners
func (r *PostgresStore) CreateDevice(ctx context.Context, device *db.Device, owners ...string) error {
	if err := validateDevice(device); err != nil {
		return err
	}

	return r.InTx(ctx, func(tx Store) error {
		q := tx.(*PostgresStore).q

		insertQuery := `
			INSERT INTO devices (device_id, name, pulse_to_liter)
			VALUES ($1, $2, $3)
			ON CONFLICT (device_id) DO NOTHING
			RETURNING id
		`
		err := q.QueryRow(ctx, insertQuery, device.DeviceID, device.Name, device.PulseToLiter).Scan(&device.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDeviceExists
		}
		if err != nil {
			return fmt.Errorf("failed to create device: %w", err)
		}

		for _, userID := range owners {
			if _, err := insertOwner(ctx, q, device.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddOwner links a user to an existing device
func (r *PostgresStore) AddOwner(ctx context.Context, deviceID, userID string) (bool, error) {
	device, err := r.FindDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return insertOwner(ctx, r.q, device.ID, userID)
}

func insertOwner(ctx context.Context, q querier, devicePK int64, userID string) (bool, error) {
	query := `
		INSERT INTO device_owners (device_pk, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	tag, err := q.Exec(ctx, query, devicePK, userID)
	if err != nil {
		return false, fmt.Errorf("failed to add device owner: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DevicesOwnedBy lists the devices a user owns, ordered by device_id
func (r *PostgresStore) DevicesOwnedBy(ctx context.Context, userID string) ([]db.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices d
		JOIN device_owners o ON o.device_pk = d.id
		WHERE o.user_id = $1
		ORDER BY d.device_id
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var device db.Device
		if err := scanDevice(rows, &device); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// RecentLogs returns the newest logs across the given devices
func (r *PostgresStore) RecentLogs(ctx context.Context, devicePKs []int64, limit int) ([]db.WaterLog, error) {
	if len(devicePKs) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, device_pk, count, liters, created_at
		FROM water_logs
		WHERE device_pk = ANY($1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, devicePKs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent logs: %w", err)
	}
	defer rows.Close()

	var logs []db.WaterLog
	for rows.Next() {
		var log db.WaterLog
		if err := rows.Scan(&log.ID, &log.DevicePK, &log.Count, &log.Liters, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan water log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return logs, nil
}

// Close releases the pool
func (r *PostgresStore) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
