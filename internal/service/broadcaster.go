package service

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Multicaster delivers a frame to every live connection of one user
type Multicaster interface {
	Broadcast(identity string, frame []byte)
}

// Broadcaster fans an accepted reading out to the device's owners
type Broadcaster struct {
	groups Multicaster
	logger *zap.Logger
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(groups Multicaster, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{groups: groups, logger: logger}
}

// Deliver sends the reading to each owner's group. The frame is encoded once
// and queued without waiting on any recipient.
func (b *Broadcaster) Deliver(owners []string, reading Reading) {
	if len(owners) == 0 {
		return
	}

	frame, err := json.Marshal(Notification{Type: TypeTelemetry, Data: reading})
	if err != nil {
		b.logger.Error("failed to encode notification", zap.Error(err), zap.String("device_id", reading.DeviceID))
		return
	}

	for _, owner := range owners {
		b.groups.Broadcast(owner, frame)
	}
}
