// Package model - Sync bookkeeping documents
package model

// SyncMetadata stores the high-water mark of the last completed incremental run
type SyncMetadata struct {
	Key          string `json:"_key"`           // e.g., "cve_nvd_data_sync"
	LastSyncTime string `json:"last_sync_time"` // RFC3339 timestamp with milliseconds
	Type         string `json:"type"`           // "sync_metadata"
}
