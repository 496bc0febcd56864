package service

// Wire values of the relay protocol
const (
	StatusConnected = "connected"
	StatusOK        = "ok"
	StatusError     = "error"

	TypeTelemetry = "telemetry"
)

// Reading is the success payload sent to the reporting connection and, wrapped
// in a Notification, to every connection of the device's owners
type Reading struct {
	Status    string  `json:"status"`
	DeviceID  string  `json:"device_id"`
	Count     int64   `json:"count"`
	Liters    float64 `json:"liters"`
	Timestamp string  `json:"timestamp"`
}

// Notification is the multicast envelope
type Notification struct {
	Type string  `json:"type"`
	Data Reading `json:"data"`
}

// StatusMessage carries connection acknowledgments and error replies
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Welcome builds the acknowledgment sent right after a connection is accepted
func Welcome(displayName string) StatusMessage {
	if displayName == "" {
		return StatusMessage{Status: StatusConnected, Message: "Device or guest connected."}
	}
	return StatusMessage{Status: StatusConnected, Message: "Welcome " + displayName + ", listening for your devices."}
}

// ErrorReply builds an error reply for the reporting connection
func ErrorReply(message string) StatusMessage {
	return StatusMessage{Status: StatusError, Message: message}
}
