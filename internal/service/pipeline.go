package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/hub"
	"github.com/septivank/water-meter-relay/internal/logging"
	"github.com/septivank/water-meter-relay/internal/metrics"
	"github.com/septivank/water-meter-relay/internal/validator"
)

// Pipeline handles inbound telemetry frames from any transport
type Pipeline struct {
	ingestor    *Ingestor
	broadcaster *Broadcaster
	logger      *zap.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(ingestor *Ingestor, broadcaster *Broadcaster, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		ingestor:    ingestor,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleMessage validates and ingests one frame. The reply for the reporting
// connection is queued on origin before the owners are notified; origin may be
// nil when the frame did not arrive over a connection. Malformed frames get no
// reply. The returned error only informs the caller; it never affects the
// connection.
func (p *Pipeline) HandleMessage(ctx context.Context, raw []byte, origin hub.Conn) error {
	logger := p.logger
	if origin != nil {
		logger = logging.WithConnectionID(logger, origin.ID())
	}

	msg, result := validator.ValidateTelemetry(raw)
	if !result.IsValid {
		metrics.RecordTelemetry(metrics.ResultMalformed)
		logger.Debug("dropping malformed telemetry", zap.String("reason", result.Reason))
		return fmt.Errorf("%w: %s", ErrMalformedMessage, result.Reason)
	}

	outcome, err := p.ingestor.Ingest(ctx, msg.DeviceID, msg.Count)
	if err != nil {
		var unknown *UnknownDeviceError
		if errors.As(err, &unknown) {
			metrics.RecordTelemetry(metrics.ResultUnknownDevice)
			logger.Info("telemetry for unknown device", zap.String("device_id", msg.DeviceID))
			p.reply(logger, origin, ErrorReply(unknown.Error()))
			return err
		}

		metrics.RecordTelemetry(metrics.ResultPersistenceError)
		logger.Error("failed to persist telemetry",
			zap.Error(err),
			zap.String("device_id", msg.DeviceID),
			zap.Int64("count", msg.Count),
		)
		p.reply(logger, origin, ErrorReply("Failed to store telemetry for device_id "+msg.DeviceID))
		return err
	}

	metrics.RecordTelemetry(metrics.ResultOK)
	logger.Debug("telemetry accepted",
		zap.String("device_id", outcome.Reading.DeviceID),
		zap.Int64("count", outcome.Reading.Count),
		zap.Float64("liters", outcome.Reading.Liters),
		zap.Int("owners", len(outcome.Owners)),
	)

	p.reply(logger, origin, outcome.Reading)
	p.broadcaster.Deliver(outcome.Owners, outcome.Reading)
	return nil
}

func (p *Pipeline) reply(logger *zap.Logger, origin hub.Conn, payload any) {
	if origin == nil {
		return
	}
	frame, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	if err := origin.Send(frame); err != nil {
		logger.Debug("reply not delivered", zap.Error(err))
	}
}
