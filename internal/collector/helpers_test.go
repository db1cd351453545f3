package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/internal/nvd"
	"github.com/ortelius/cve-mirror/model"
)

type cveStub struct {
	id           string
	lastModified string
}

func vulnerabilities(stubs ...cveStub) []model.Vulnerability {
	items := make([]model.Vulnerability, 0, len(stubs))
	for _, s := range stubs {
		body, _ := json.Marshal(map[string]interface{}{
			"id":           s.id,
			"lastModified": s.lastModified,
			"metrics": map[string]interface{}{
				"cvssMetricV31": []interface{}{
					map[string]interface{}{
						"type":     "Primary",
						"cvssData": map[string]interface{}{"version": "3.1", "baseScore": 7.5},
					},
				},
			},
		})
		items = append(items, model.Vulnerability{CVE: body})
	}
	return items
}

// sequential returns n stubs numbered from first
func sequential(first, n int, lastModified string) []cveStub {
	stubs := make([]cveStub, 0, n)
	for i := first; i < first+n; i++ {
		stubs = append(stubs, cveStub{id: fmt.Sprintf("CVE-2024-%04d", i), lastModified: lastModified})
	}
	return stubs
}

func records(stubs ...cveStub) []model.Record {
	page := model.Page{Vulnerabilities: vulnerabilities(stubs...)}
	recs, _ := page.Records()
	return recs
}

// fakeFeed serves pages keyed by start index and records every query
type fakeFeed struct {
	mu      sync.Mutex
	pages   map[int][]cveStub
	errs    map[int]error
	queries []nvd.Query
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{pages: map[int][]cveStub{}, errs: map[int]error{}}
}

func (f *fakeFeed) FetchPage(_ context.Context, q nvd.Query) (*model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if err, ok := f.errs[q.StartIndex]; ok {
		return nil, err
	}
	return &model.Page{
		StartIndex:      q.StartIndex,
		ResultsPerPage:  q.ResultsPerPage,
		Vulnerabilities: vulnerabilities(f.pages[q.StartIndex]...),
	}, nil
}

func (f *fakeFeed) calls() []nvd.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nvd.Query(nil), f.queries...)
}

// flakyStore fails the upsert calls whose 1-based number is listed in failOn
type flakyStore struct {
	*database.MemoryStore
	mu      sync.Mutex
	upserts int
	failOn  map[int]bool
}

func newFlakyStore(failOn ...int) *flakyStore {
	s := &flakyStore{MemoryStore: database.NewMemoryStore(), failOn: map[int]bool{}}
	for _, n := range failOn {
		s.failOn[n] = true
	}
	return s
}

func (s *flakyStore) UpsertCVEs(ctx context.Context, docs []model.CVE) (int, error) {
	s.mu.Lock()
	s.upserts++
	fail := s.failOn[s.upserts]
	s.mu.Unlock()

	if fail {
		return 0, fmt.Errorf("%w: injected", database.ErrPartialWrite)
	}
	return s.MemoryStore.UpsertCVEs(ctx, docs)
}

// metaFailStore fails the next failReads metadata reads
type metaFailStore struct {
	*database.MemoryStore
	mu        sync.Mutex
	failReads int
}

func (s *metaFailStore) GetMetadata(ctx context.Context, key string) (*model.SyncMetadata, error) {
	s.mu.Lock()
	fail := s.failReads > 0
	if fail {
		s.failReads--
	}
	s.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("%w: injected", database.ErrUnavailable)
	}
	return s.MemoryStore.GetMetadata(ctx, key)
}
