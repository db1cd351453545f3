package database

import (
	"context"

	"github.com/ortelius/cve-mirror/model"
	"go.uber.org/zap"
)

// NoopStore stands in for the mirror when the document store could not be
// reached at startup. Every call is logged and fails with ErrUnavailable so
// the process stays up without doing useful work until it is restarted.
type NoopStore struct {
	logger *zap.Logger
}

// NewNoopStore returns a store that only logs
func NewNoopStore(logger *zap.Logger) *NoopStore {
	return &NoopStore{logger: logger}
}

func (s *NoopStore) unavailable(op string) error {
	s.logger.Warn("No document store available", zap.String("op", op))
	return ErrUnavailable
}

// LastModified always fails
func (s *NoopStore) LastModified(_ context.Context, _ []string) (map[string]string, error) {
	return nil, s.unavailable("last_modified")
}

// UpsertCVEs always fails
func (s *NoopStore) UpsertCVEs(_ context.Context, _ []model.CVE) (int, error) {
	return 0, s.unavailable("upsert_cves")
}

// GetMetadata always fails
func (s *NoopStore) GetMetadata(_ context.Context, _ string) (*model.SyncMetadata, error) {
	return nil, s.unavailable("get_metadata")
}

// SaveMetadata always fails
func (s *NoopStore) SaveMetadata(_ context.Context, _ model.SyncMetadata) error {
	return s.unavailable("save_metadata")
}

// FindCVE always fails
func (s *NoopStore) FindCVE(_ context.Context, _ string) (*model.CVE, error) {
	return nil, s.unavailable("find_cve")
}

// FindCVEsByScore always fails
func (s *NoopStore) FindCVEsByScore(_ context.Context, _, _ float64, _ int) ([]model.CVE, error) {
	return nil, s.unavailable("find_cves_by_score")
}

// FindCVEsModifiedSince always fails
func (s *NoopStore) FindCVEsModifiedSince(_ context.Context, _ string, _ int) ([]model.CVE, error) {
	return nil, s.unavailable("find_cves_modified_since")
}

var _ Store = (*NoopStore)(nil)
