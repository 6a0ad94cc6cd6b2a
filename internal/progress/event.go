package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

const (
	// KeepaliveMessage is sent by the client to keep the connection alive.
	KeepaliveMessage = "ping"
	// KeepaliveAckMessage is the server answer to KeepaliveMessage.
	KeepaliveAckMessage = "pong"

	eventTypeProgress = "progress"
)

// Event is an inbound channel message, decoded once when it is received.
// It is one of ProgressEvent, KeepaliveAck or UnknownEvent.
type Event interface {
	eventType() string
}

// ProgressEvent is a progress update for a task.
type ProgressEvent struct {
	model.ProgressEvent
}

// KeepaliveAck is the answer to a keepalive.
type KeepaliveAck struct{}

// UnknownEvent is a well formed message with a type the client doesn't handle.
type UnknownEvent struct {
	Type string
}

func (ProgressEvent) eventType() string  { return eventTypeProgress }
func (KeepaliveAck) eventType() string   { return KeepaliveAckMessage }
func (e UnknownEvent) eventType() string { return e.Type }

type eventJSON struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Progress  *int   `json:"progress"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Timestamps come in RFC3339 or as naive UTC ISO 8601 (no zone).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// DecodeEvent decodes a raw inbound message.
func DecodeEvent(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if string(data) == KeepaliveAckMessage {
		return KeepaliveAck{}, nil
	}

	var ev eventJSON
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("could not decode event: %w", err)
	}

	switch ev.Type {
	case "":
		return nil, fmt.Errorf("event without type: %w", model.ErrNotValid)
	case eventTypeProgress:
	default:
		return UnknownEvent{Type: ev.Type}, nil
	}

	if ev.TaskID == "" {
		return nil, fmt.Errorf("progress event without task id: %w", model.ErrNotValid)
	}
	if ev.Progress == nil {
		return nil, fmt.Errorf("progress event without progress: %w", model.ErrNotValid)
	}
	if *ev.Progress < 0 || *ev.Progress > 100 {
		return nil, fmt.Errorf("progress %d out of range: %w", *ev.Progress, model.ErrNotValid)
	}

	return ProgressEvent{model.ProgressEvent{
		TaskID:    ev.TaskID,
		Progress:  *ev.Progress,
		Status:    parseRemoteStatus(ev.Status),
		Timestamp: parseTimestamp(ev.Timestamp),
	}}, nil
}

// EncodeProgressEvent encodes a progress event the way the server sends it.
func EncodeProgressEvent(ev model.ProgressEvent) ([]byte, error) {
	p := ev.Progress
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return json.Marshal(eventJSON{
		Type:      eventTypeProgress,
		TaskID:    ev.TaskID,
		Progress:  &p,
		Status:    string(ev.Status),
		Timestamp: ts.UTC().Format("2006-01-02T15:04:05.000000"),
	})
}

func parseRemoteStatus(s string) model.RemoteStatus {
	switch st := model.RemoteStatus(s); st {
	case model.RemoteStatusUploaded, model.RemoteStatusProcessing, model.RemoteStatusCompleted, model.RemoteStatusFailed:
		return st
	default:
		return model.RemoteStatusUnknown
	}
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
