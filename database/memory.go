package database

import (
	"context"
	"sort"
	"sync"

	"github.com/ortelius/cve-mirror/model"
)

// MemoryStore keeps the mirror in process memory. It honours the same
// per-document upsert semantics as ArangoStore.
type MemoryStore struct {
	mu       sync.RWMutex
	cves     map[string]model.CVE
	metadata map[string]model.SyncMetadata
	writes   int
}

// NewMemoryStore returns an empty in-memory mirror
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cves:     make(map[string]model.CVE),
		metadata: make(map[string]model.SyncMetadata),
	}
}

// LastModified returns the stored last_modified value for each identifier that exists.
func (s *MemoryStore) LastModified(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]string, len(ids))
	for _, id := range ids {
		if doc, ok := s.cves[id]; ok {
			found[id] = doc.LastModified
		}
	}
	return found, nil
}

// UpsertCVEs replaces or inserts every document
func (s *MemoryStore) UpsertCVEs(_ context.Context, docs []model.CVE) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		s.cves[doc.CveID] = doc
	}
	s.writes += len(docs)
	return len(docs), nil
}

// GetMetadata returns the metadata document or nil when it does not exist
func (s *MemoryStore) GetMetadata(_ context.Context, key string) (*model.SyncMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[key]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// SaveMetadata upserts the metadata document keyed by meta.Key
func (s *MemoryStore) SaveMetadata(_ context.Context, meta model.SyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metadata[meta.Key] = meta
	return nil
}

// FindCVE returns the document for id or nil when it is not mirrored
func (s *MemoryStore) FindCVE(_ context.Context, id string) (*model.CVE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.cves[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// FindCVEsByScore returns documents whose v2 or v3 base score lies in [minScore, maxScore]
func (s *MemoryStore) FindCVEsByScore(_ context.Context, minScore, maxScore float64, limit int) ([]model.CVE, error) {
	inRange := func(score *float64) bool {
		return score != nil && *score >= minScore && *score <= maxScore
	}

	return s.filter(func(doc model.CVE) bool {
		return inRange(doc.CVSS.V2BaseScore) || inRange(doc.CVSS.V3BaseScore)
	}, func(a, b model.CVE) bool {
		return a.CveID < b.CveID
	}, limit), nil
}

// FindCVEsModifiedSince returns documents with last_modified >= since, newest first
func (s *MemoryStore) FindCVEsModifiedSince(_ context.Context, since string, limit int) ([]model.CVE, error) {
	return s.filter(func(doc model.CVE) bool {
		return doc.LastModified >= since
	}, func(a, b model.CVE) bool {
		return a.LastModified > b.LastModified
	}, limit), nil
}

// Count returns the number of mirrored documents
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cves)
}

// Writes returns the number of documents written since creation
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) filter(keep func(model.CVE) bool, less func(a, b model.CVE) bool, limit int) []model.CVE {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := []model.CVE{}
	for _, doc := range s.cves {
		if keep(doc) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return less(docs[i], docs[j]) })

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

var _ Store = (*MemoryStore)(nil)
