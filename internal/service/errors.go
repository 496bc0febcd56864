package service

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage marks frames that are dropped without a reply
var ErrMalformedMessage = errors.New("malformed telemetry message")

// UnknownDeviceError is returned when a frame names a device that does not exist.
// Its message is sent back to the reporting connection verbatim.
type UnknownDeviceError struct {
	DeviceID string
}

func (e *UnknownDeviceError) Error() string {
	return "Unknown device_id " + e.DeviceID
}

// PersistenceError wraps a store failure during ingestion
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
