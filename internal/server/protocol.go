package server

import (
	"github.com/agent-racer/chrome-logs/internal/ingest"
	"github.com/agent-racer/chrome-logs/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgStatus   MessageType = "status"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

// SnapshotPayload is sent once per connection. Entries are oldest first.
type SnapshotPayload struct {
	Session session.Snapshot    `json:"session"`
	Logs    []ingest.LogEntry   `json:"logs"`
	Errors  []ingest.ErrorEntry `json:"errors"`
}

// DeltaPayload carries entries ingested since the previous flush, oldest
// first.
type DeltaPayload struct {
	Logs   []ingest.LogEntry   `json:"logs,omitempty"`
	Errors []ingest.ErrorEntry `json:"errors,omitempty"`
}

type StatusPayload struct {
	Session session.Snapshot `json:"session"`
}
