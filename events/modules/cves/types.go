// Package cves defines the Kafka event contracts of the CVE mirror.
package cves

import (
	"time"

	"github.com/ortelius/cve-mirror/internal/collector"
)

// Event types
const (
	SyncCompletedType = "cve.sync.completed"
	SyncRequestedType = "cve.sync.requested"
	SchemaVersion     = "v1"
)

// SyncCompletedEvent is published after every collection run.
type SyncCompletedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Run collector.RunResult `json:"run"`
}

// SyncRequestedEvent asks a worker to run a collection.
type SyncRequestedEvent struct {
	EventType string `json:"event_type,omitempty"`
	EventID   string `json:"event_id,omitempty"`

	// Mode is "full" or "incremental"
	Mode string `json:"mode"`
}
