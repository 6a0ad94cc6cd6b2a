package model

import "time"

// RemoteStatus is the task status as reported by the OCR server.
type RemoteStatus string

const (
	RemoteStatusUnknown    RemoteStatus = ""
	RemoteStatusUploaded   RemoteStatus = "uploaded"
	RemoteStatusProcessing RemoteStatus = "processing"
	RemoteStatusCompleted  RemoteStatus = "completed"
	RemoteStatusFailed     RemoteStatus = "failed"
)

// IsTerminal returns true if the server will not report further changes.
func (s RemoteStatus) IsTerminal() bool {
	return s == RemoteStatusCompleted || s == RemoteStatusFailed
}

// ConnectionState is the state of a progress channel connection.
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateOpen         ConnectionState = "open"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	ConnectionStateClosed       ConnectionState = "closed"
)

// ProgressEvent is a progress update pushed by the server for a task.
type ProgressEvent struct {
	TaskID    string
	Progress  int
	Status    RemoteStatus
	Timestamp time.Time
}

// ChannelState is the local view of a progress channel.
type ChannelState struct {
	TaskID     string
	Connection ConnectionState
	Progress   int
	Status     RemoteStatus
	// Reconnects is the number of reconnection attempts made so far.
	Reconnects int
}
