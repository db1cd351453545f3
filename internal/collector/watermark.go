package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ortelius/cve-mirror/model"
	"github.com/ortelius/cve-mirror/util"
	"go.uber.org/zap"
)

// WatermarkKey identifies the single watermark document
const WatermarkKey = "cve_nvd_data_sync"

// MetadataStore persists small bookkeeping documents
type MetadataStore interface {
	GetMetadata(ctx context.Context, key string) (*model.SyncMetadata, error)
	SaveMetadata(ctx context.Context, meta model.SyncMetadata) error
}

// Watermark reads and writes the last successful incremental sync time
type Watermark struct {
	store  MetadataStore
	logger *zap.Logger
}

// NewWatermark returns a watermark backed by store
func NewWatermark(store MetadataStore, logger *zap.Logger) *Watermark {
	return &Watermark{store: store, logger: logger}
}

// Get returns the stored time. ok is false when nothing usable is stored;
// err is set only when the store could not be read.
func (w *Watermark) Get(ctx context.Context) (t time.Time, ok bool, err error) {
	meta, err := w.store.GetMetadata(ctx, WatermarkKey)
	if err != nil {
		w.logger.Error("Error fetching last sync time", zap.Error(err))
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if meta == nil || meta.LastSyncTime == "" {
		return time.Time{}, false, nil
	}

	t, perr := util.ParseWatermark(meta.LastSyncTime)
	if perr != nil {
		w.logger.Error("Ignoring unparsable last sync time", zap.String("value", meta.LastSyncTime), zap.Error(perr))
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// Set stores t as the new watermark
func (w *Watermark) Set(ctx context.Context, t time.Time) error {
	err := w.store.SaveMetadata(ctx, model.SyncMetadata{
		Key:          WatermarkKey,
		LastSyncTime: util.FormatWatermark(t),
		Type:         "sync_metadata",
	})
	if err != nil {
		w.logger.Error("Error updating last sync time", zap.Error(err))
		return err
	}
	return nil
}
