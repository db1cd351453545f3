package database

import (
	"context"
	"fmt"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/ortelius/cve-mirror/model"
)

// Store is the full contract of a CVE mirror backend.
type Store interface {
	LastModified(ctx context.Context, ids []string) (map[string]string, error)
	UpsertCVEs(ctx context.Context, docs []model.CVE) (int, error)
	GetMetadata(ctx context.Context, key string) (*model.SyncMetadata, error)
	SaveMetadata(ctx context.Context, meta model.SyncMetadata) error
	Reader
}

// Reader serves the read API
type Reader interface {
	FindCVE(ctx context.Context, id string) (*model.CVE, error)
	FindCVEsByScore(ctx context.Context, minScore, maxScore float64, limit int) ([]model.CVE, error)
	FindCVEsModifiedSince(ctx context.Context, since string, limit int) ([]model.CVE, error)
}

// ArangoStore is the ArangoDB backed Store
type ArangoStore struct {
	db DBConnection
}

// NewArangoStore wraps an initialized connection
func NewArangoStore(db DBConnection) *ArangoStore {
	return &ArangoStore{db: db}
}

// LastModified returns the stored last_modified value for each identifier that exists.
func (s *ArangoStore) LastModified(ctx context.Context, ids []string) (map[string]string, error) {
	found := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := `
		FOR c IN @@collection
			FILTER c.cve_id IN @ids
			RETURN { cve_id: c.cve_id, last_modified: c.last_modified }
	`
	bindVars := map[string]interface{}{
		"@collection": CVECollection,
		"ids":         ids,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	for cursor.HasMore() {
		var result struct {
			CveID        string `json:"cve_id"`
			LastModified string `json:"last_modified"`
		}
		if _, err := cursor.ReadDocument(ctx, &result); err != nil {
			return nil, err
		}
		found[result.CveID] = result.LastModified
	}

	return found, nil
}

// UpsertCVEs replaces or inserts every document by _key in one query.
// Each document is written atomically; failures are skipped and reported
// through the returned count and ErrPartialWrite.
func (s *ArangoStore) UpsertCVEs(ctx context.Context, docs []model.CVE) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	query := `
		FOR doc IN @docs
			UPSERT { _key: doc._key }
			INSERT doc
			REPLACE doc
			IN @@collection
			OPTIONS { ignoreErrors: true }
			RETURN NEW._key
	`
	bindVars := map[string]interface{}{
		"@collection": CVECollection,
		"docs":        docs,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	written := 0
	for cursor.HasMore() {
		var key string
		if _, err := cursor.ReadDocument(ctx, &key); err != nil {
			return written, err
		}
		written++
	}

	if written < len(docs) {
		return written, fmt.Errorf("%w: %d of %d documents written", ErrPartialWrite, written, len(docs))
	}
	return written, nil
}

// GetMetadata returns the metadata document or nil when it does not exist
func (s *ArangoStore) GetMetadata(ctx context.Context, key string) (*model.SyncMetadata, error) {
	query := `RETURN DOCUMENT(@collection, @key)`
	bindVars := map[string]interface{}{
		"collection": MetadataCollection,
		"key":        key,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, nil
	}

	var meta model.SyncMetadata
	if _, err := cursor.ReadDocument(ctx, &meta); err != nil {
		return nil, err
	}
	if meta.Key == "" {
		return nil, nil
	}
	return &meta, nil
}

// SaveMetadata upserts the metadata document keyed by meta.Key
func (s *ArangoStore) SaveMetadata(ctx context.Context, meta model.SyncMetadata) error {
	if meta.Key == "" {
		return fmt.Errorf("cannot save metadata with empty key")
	}

	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, last_sync_time: @time, type: @type }
		UPDATE { last_sync_time: @time }
		IN @@collection
	`
	bindVars := map[string]interface{}{
		"@collection": MetadataCollection,
		"key":         meta.Key,
		"time":        meta.LastSyncTime,
		"type":        meta.Type,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return err
	}
	return cursor.Close()
}

// FindCVE returns the document for id or nil when it is not mirrored
func (s *ArangoStore) FindCVE(ctx context.Context, id string) (*model.CVE, error) {
	query := `
		FOR c IN @@collection
			FILTER c.cve_id == @id
			LIMIT 1
			RETURN c
	`
	docs, err := s.queryCVEs(ctx, query, map[string]interface{}{"id": id})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// FindCVEsByScore returns documents whose v2 or v3 base score lies in [minScore, maxScore]
func (s *ArangoStore) FindCVEsByScore(ctx context.Context, minScore, maxScore float64, limit int) ([]model.CVE, error) {
	query := `
		FOR c IN @@collection
			FILTER (c.cvss.v2_base_score != null AND c.cvss.v2_base_score >= @min AND c.cvss.v2_base_score <= @max)
			    OR (c.cvss.v3_base_score != null AND c.cvss.v3_base_score >= @min AND c.cvss.v3_base_score <= @max)
			SORT c.cve_id
			LIMIT @limit
			RETURN c
	`
	return s.queryCVEs(ctx, query, map[string]interface{}{
		"min":   minScore,
		"max":   maxScore,
		"limit": limit,
	})
}

// FindCVEsModifiedSince returns documents with last_modified >= since, newest first
func (s *ArangoStore) FindCVEsModifiedSince(ctx context.Context, since string, limit int) ([]model.CVE, error) {
	query := `
		FOR c IN @@collection
			FILTER c.last_modified >= @since
			SORT c.last_modified DESC
			LIMIT @limit
			RETURN c
	`
	return s.queryCVEs(ctx, query, map[string]interface{}{
		"since": since,
		"limit": limit,
	})
}

func (s *ArangoStore) queryCVEs(ctx context.Context, query string, bindVars map[string]interface{}) ([]model.CVE, error) {
	bindVars["@collection"] = CVECollection

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	docs := []model.CVE{}
	for cursor.HasMore() {
		var doc model.CVE
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Ensure compile-time interface check
var _ Store = (*ArangoStore)(nil)
