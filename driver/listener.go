package driver

// Notification represents a PostgreSQL NOTIFY notification received while
// draining results.
type Notification struct {
	// PID is the process ID of the notifying backend.
	PID uint32

	// Channel is the notification channel name.
	Channel string

	// Payload is the notification payload (may be empty).
	Payload string
}

// Notice represents a non-error message (NOTICE, WARNING, ...) sent by the server.
type Notice struct {
	Severity string
	Code     string
	Message  string
}

// AsyncHandlers receives messages the server sends outside of the result
// stream. Drivers invoke the callbacks from within ConsumeInput.
type AsyncHandlers struct {
	OnNotification func(*Notification)
	OnNotice       func(*Notice)
}
