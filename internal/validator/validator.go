package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Telemetry is one decoded pulse report
type Telemetry struct {
	DeviceID string
	Count    int64
}

type telemetryFrame struct {
	DeviceID *string        `json:"device_id"`
	Count    json.RawMessage `json:"count"`
}

// ValidateTelemetry decodes an inbound frame of the form {"device_id": "...", "count": N}.
// The result is invalid when the frame is not a JSON object, device_id is missing
// or empty, or count is missing, not a JSON number (quoted digits included),
// fractional or negative.
func ValidateTelemetry(raw []byte) (Telemetry, ValidationResult) {
	var frame telemetryFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Telemetry{}, invalid(fmt.Sprintf("undecodable payload: %v", err))
	}

	if frame.DeviceID == nil || *frame.DeviceID == "" {
		return Telemetry{}, invalid("missing device_id")
	}

	if len(frame.Count) == 0 || bytes.Equal(frame.Count, []byte("null")) {
		return Telemetry{}, invalid("missing count")
	}

	var number json.Number
	if frame.Count[0] == '"' || json.Unmarshal(frame.Count, &number) != nil {
		return Telemetry{}, invalid("count is not a number")
	}

	count, err := number.Int64()
	if err != nil {
		return Telemetry{}, invalid(fmt.Sprintf("count is not an integer: %v", err))
	}

	if count < 0 {
		return Telemetry{}, invalid("negative count")
	}

	return Telemetry{DeviceID: *frame.DeviceID, Count: count}, ValidationResult{IsValid: true}
}

func invalid(reason string) ValidationResult {
	return ValidationResult{IsValid: false, Reason: reason}
}
