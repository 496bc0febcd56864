package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/meter"
	"github.com/septivank/water-meter-relay/internal/metrics"
	"github.com/septivank/water-meter-relay/internal/mq"
	"github.com/septivank/water-meter-relay/internal/repository"
	"github.com/septivank/water-meter-relay/tools/timeparser"
)

// EventPublisher receives committed readings for downstream consumers
type EventPublisher interface {
	PublishReading(ctx context.Context, event mq.ReadingEvent) error
}

// NopPublisher discards events; used when no broker is configured
type NopPublisher struct{}

func (NopPublisher) PublishReading(context.Context, mq.ReadingEvent) error { return nil }

// Outcome is the result of a successful ingest
type Outcome struct {
	Reading Reading
	Owners  []string
}

// Ingestor persists telemetry events
type Ingestor struct {
	store     repository.Store
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestor creates a new ingestor
func NewIngestor(store repository.Store, publisher EventPublisher, logger *zap.Logger) *Ingestor {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Ingestor{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest resolves the device, marks it seen, appends a log with the derived
// volume and returns the success payload together with the device's owners.
// The liveness update and the log are committed atomically.
func (s *Ingestor) Ingest(ctx context.Context, deviceID string, count int64) (*Outcome, error) {
	var outcome Outcome
	start := time.Now()

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		device, err := tx.FindDevice(ctx, deviceID)
		if err != nil {
			return classify("find device", deviceID, err)
		}

		at := timeparser.Truncate(s.now())
		if err := tx.UpdateLastSeen(ctx, device, at); err != nil {
			return classify("update last_seen", deviceID, err)
		}

		log, err := tx.CreateLog(ctx, device, count, meter.Liters(count, device.PulseToLiter), at)
		if err != nil {
			return classify("create log", deviceID, err)
		}

		owners, err := tx.OwnersOf(ctx, device)
		if err != nil {
			return classify("read owners", deviceID, err)
		}

		outcome = Outcome{Reading: readingFrom(device, log), Owners: owners}
		return nil
	})
	metrics.ObserveIngest(time.Since(start))

	if err != nil {
		var unknown *UnknownDeviceError
		var persistence *PersistenceError
		if errors.As(err, &unknown) || errors.As(err, &persistence) {
			return nil, err
		}
		// begin/commit failures surface without an operation tag
		return nil, &PersistenceError{Op: "transaction", Err: err}
	}

	s.publish(ctx, outcome)
	return &outcome, nil
}

func (s *Ingestor) publish(ctx context.Context, outcome Outcome) {
	event := mq.ReadingEvent{
		EventID:   uuid.NewString(),
		DeviceID:  outcome.Reading.DeviceID,
		Count:     outcome.Reading.Count,
		Liters:    outcome.Reading.Liters,
		Timestamp: outcome.Reading.Timestamp,
		Owners:    outcome.Owners,
	}
	if err := s.publisher.PublishReading(ctx, event); err != nil {
		// Log error but don't fail the ingest
		s.logger.Error("failed to publish reading event",
			zap.Error(err),
			zap.String("device_id", event.DeviceID),
		)
	}
}

func classify(op, deviceID string, err error) error {
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return &UnknownDeviceError{DeviceID: deviceID}
	}
	return &PersistenceError{Op: op, Err: err}
}

func readingFrom(device *db.Device, log *db.WaterLog) Reading {
	return Reading{
		Status:    StatusOK,
		DeviceID:  device.DeviceID,
		Count:     log.Count,
		Liters:    log.Liters,
		Timestamp: timeparser.FormatISO8601(log.CreatedAt),
	}
}
