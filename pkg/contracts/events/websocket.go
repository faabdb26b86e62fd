// Package events contains the progress event contract pushed to live observers
// while an upload batch is ingested.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeUploadProgress carries a ProgressEvent
	MessageTypeUploadProgress MessageType = "upload:progress"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// Status mirrors the upload lifecycle states observers can see.
type Status string

const (
	StatusPending             Status = "pending"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// ProgressEvent is a best-effort notification describing ingestion advancement
// for one upload batch.
type ProgressEvent struct {
	UploadID         string       `json:"uploadId"`
	Status           Status       `json:"status"`
	Progress         int          `json:"progress"` // 0-100
	CurrentFile      string       `json:"currentFile,omitempty"`
	RecordsProcessed *int         `json:"recordsProcessed,omitempty"`
	Message          string       `json:"message,omitempty"`
	Result           *BatchResult `json:"result,omitempty"`
	Error            string       `json:"error,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// BatchResult summarizes a finished upload.
type BatchResult struct {
	FilesProcessed   int `json:"filesProcessed"`
	FilesFailed      int `json:"filesFailed"`
	RecordsProcessed int `json:"recordsProcessed"`
	RecordsFailed    int `json:"recordsFailed"`
	Errors           int `json:"errors"`
	Warnings         int `json:"warnings"`
}

// ClampProgress keeps a percentage inside 0-100.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// WebSocketMessage is the envelope written to WebSocket clients
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// NewProgressMessage wraps a progress event for the wire.
func NewProgressMessage(event ProgressEvent) WebSocketMessage {
	return WebSocketMessage{
		Type:      MessageTypeUploadProgress,
		Timestamp: event.Timestamp,
		Data:      event,
	}
}
