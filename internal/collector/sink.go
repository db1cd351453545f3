package collector

import (
	"context"

	"github.com/ortelius/cve-mirror/model"
	"github.com/ortelius/cve-mirror/util"
	"go.uber.org/zap"
)

// Mode selects how the sink decides whether to write a record
type Mode int

const (
	// Bulk upserts every record without reading the mirror first
	Bulk Mode = iota
	// Conditional writes only records that are new or carry a newer lastModified
	Conditional
)

func (m Mode) String() string {
	if m == Conditional {
		return "conditional"
	}
	return "bulk"
}

// Mirror is the part of the document store the sink writes through
type Mirror interface {
	LastModified(ctx context.Context, ids []string) (map[string]string, error)
	UpsertCVEs(ctx context.Context, docs []model.CVE) (int, error)
}

// Sink persists pages of records into the mirror
type Sink struct {
	mirror Mirror
	logger *zap.Logger
}

// NewSink returns a sink writing to mirror
func NewSink(mirror Mirror, logger *zap.Logger) *Sink {
	return &Sink{mirror: mirror, logger: logger}
}

// Persist writes one page and returns the number of documents written.
// All writes of the page go out as a single batch; a returned error is
// non-fatal for the caller and has already been logged.
func (s *Sink) Persist(ctx context.Context, records []model.Record, mode Mode) (int, error) {
	records = newestByID(records)
	if len(records) == 0 {
		return 0, nil
	}

	if mode == Conditional {
		var err error
		if records, err = s.changed(ctx, records); err != nil {
			s.logger.Error("Error looking up stored CVEs", zap.Int("records", len(records)), zap.Error(err))
			return 0, err
		}
		if len(records) == 0 {
			return 0, nil
		}
	}

	docs := make([]model.CVE, 0, len(records))
	for _, rec := range records {
		docs = append(docs, toDocument(rec))
	}

	written, err := s.mirror.UpsertCVEs(ctx, docs)
	if err != nil {
		s.logger.Error("Error during bulk write operation",
			zap.Stringer("mode", mode),
			zap.Int("batch", len(docs)),
			zap.Int("written", written),
			zap.Error(err))
		return written, err
	}

	s.logger.Debug("Persisted page", zap.Stringer("mode", mode), zap.Int("written", written))
	return written, nil
}

// changed drops records whose stored lastModified is equal or newer
func (s *Sink) changed(ctx context.Context, records []model.Record) ([]model.Record, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	stored, err := s.mirror.LastModified(ctx, ids)
	if err != nil {
		return records, err
	}

	toWrite := records[:0:0]
	for _, rec := range records {
		current, exists := stored[rec.ID]
		switch {
		case !exists:
			toWrite = append(toWrite, rec)
		case rec.LastModified > current:
			toWrite = append(toWrite, rec)
		case rec.LastModified < current:
			s.logger.Warn("Ignoring older upstream version",
				zap.String("cve_id", rec.ID),
				zap.String("stored", current),
				zap.String("incoming", rec.LastModified))
		}
	}

	return toWrite, nil
}

// newestByID collapses duplicate identifiers in a page to their newest version,
// keeping first-seen order.
func newestByID(records []model.Record) []model.Record {
	index := make(map[string]int, len(records))
	out := make([]model.Record, 0, len(records))

	for _, rec := range records {
		if i, seen := index[rec.ID]; seen {
			if rec.LastModified > out[i].LastModified {
				out[i] = rec
			}
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}

func toDocument(rec model.Record) model.CVE {
	return model.CVE{
		Key:          util.SanitizeKey(rec.ID),
		CveID:        rec.ID,
		LastModified: rec.LastModified,
		CVE:          rec.Body,
		CVSS:         util.ExtractCVSS(rec.Body),
		ObjType:      "CVE",
	}
}
