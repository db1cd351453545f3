package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSinkBulkWritesEveryRecord(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	page := records(sequential(1, 3, "2024-01-01T00:00:00.000")...)

	n, err := sink.Persist(ctx, page, Bulk)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = sink.Persist(ctx, page, Bulk)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "bulk mode does not read before writing")
	assert.Equal(t, 3, store.Count())
	assert.Equal(t, 6, store.Writes())
}

func TestSinkConditionalSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	original := records(cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"})
	_, err := sink.Persist(ctx, original, Bulk)
	require.NoError(t, err)
	writes := store.Writes()

	n, err := sink.Persist(ctx, original, Conditional)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, writes, store.Writes())

	newer := records(cveStub{id: "CVE-2024-0001", lastModified: "2024-02-01T00:00:00.000"})
	n, err = sink.Persist(ctx, newer, Conditional)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, writes+1, store.Writes())

	doc, err := store.FindCVE(ctx, "CVE-2024-0001")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "2024-02-01T00:00:00.000", doc.LastModified)
}

func TestSinkConditionalNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	_, err := sink.Persist(ctx, records(cveStub{id: "CVE-2024-0001", lastModified: "2024-02-01T00:00:00.000"}), Bulk)
	require.NoError(t, err)

	n, err := sink.Persist(ctx, records(cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"}), Conditional)
	require.NoError(t, err)
	assert.Zero(t, n)

	doc, _ := store.FindCVE(ctx, "CVE-2024-0001")
	assert.Equal(t, "2024-02-01T00:00:00.000", doc.LastModified)
}

func TestSinkConditionalInsertsNewRecords(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	_, err := sink.Persist(ctx, records(cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"}), Bulk)
	require.NoError(t, err)

	n, err := sink.Persist(ctx, records(
		cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"},
		cveStub{id: "CVE-2024-0002", lastModified: "2024-01-01T00:00:00.000"},
	), Conditional)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, store.Count())
}

func TestSinkCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	n, err := sink.Persist(ctx, records(
		cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"},
		cveStub{id: "CVE-2024-0001", lastModified: "2024-03-01T00:00:00.000"},
		cveStub{id: "CVE-2024-0001", lastModified: "2024-02-01T00:00:00.000"},
	), Bulk)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, _ := store.FindCVE(ctx, "CVE-2024-0001")
	assert.Equal(t, "2024-03-01T00:00:00.000", doc.LastModified)
}

func TestSinkStoresDerivedFields(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	sink := NewSink(store, zap.NewNop())

	_, err := sink.Persist(ctx, records(cveStub{id: "CVE-2024-0001", lastModified: "2024-01-01T00:00:00.000"}), Bulk)
	require.NoError(t, err)

	doc, _ := store.FindCVE(ctx, "CVE-2024-0001")
	require.NotNil(t, doc)
	assert.Equal(t, "CVE-2024-0001", doc.Key)
	assert.Equal(t, "CVE", doc.ObjType)
	require.NotNil(t, doc.CVSS.V3BaseScore)
	assert.InDelta(t, 7.5, *doc.CVSS.V3BaseScore, 0.001)
	assert.Equal(t, "HIGH", doc.CVSS.SeverityRating)
	assert.Contains(t, string(doc.CVE), `"id":"CVE-2024-0001"`)
}

func TestSinkReportsWriteFailure(t *testing.T) {
	store := newFlakyStore(1)
	sink := NewSink(store, zap.NewNop())

	n, err := sink.Persist(context.Background(), records(sequential(1, 2, "2024-01-01T00:00:00.000")...), Bulk)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, database.ErrPartialWrite)
}

type lookupFailStore struct {
	*database.MemoryStore
}

func (lookupFailStore) LastModified(context.Context, []string) (map[string]string, error) {
	return nil, errors.New("lookup failed")
}

func TestSinkConditionalLookupFailure(t *testing.T) {
	store := lookupFailStore{database.NewMemoryStore()}
	sink := NewSink(store, zap.NewNop())

	n, err := sink.Persist(context.Background(), records(sequential(1, 2, "2024-01-01T00:00:00.000")...), Conditional)
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.Count())
}

func TestSinkEmptyPage(t *testing.T) {
	n, err := NewSink(database.NewMemoryStore(), zap.NewNop()).Persist(context.Background(), []model.Record{}, Conditional)
	require.NoError(t, err)
	assert.Zero(t, n)
}
