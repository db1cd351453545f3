package cves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ortelius/cve-mirror/internal/services"
	"go.uber.org/zap"
)

// SyncTrigger starts a collection run in the background
type SyncTrigger interface {
	TriggerAsync(ctx context.Context, mode string) error
}

// HandleSyncRequested processes a sync request read from Kafka.
// A request arriving while a run is active is dropped.
func HandleSyncRequested(ctx context.Context, msg []byte, trigger SyncTrigger, logger *zap.Logger) error {
	var event SyncRequestedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal SyncRequestedEvent: %w", err)
	}
	if event.Mode == "" {
		return fmt.Errorf("invalid event: missing mode")
	}

	mode, err := services.ParseMode(event.Mode)
	if err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	logger.Info("Processing sync request", zap.String("mode", mode), zap.String("event_id", event.EventID))

	if err := trigger.TriggerAsync(ctx, mode); err != nil {
		if errors.Is(err, services.ErrRunInProgress) {
			logger.Warn("Dropping sync request, run already in progress", zap.String("mode", mode))
			return nil
		}
		return fmt.Errorf("internal service error: %w", err)
	}
	return nil
}
