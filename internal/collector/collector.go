// Package collector keeps the CVE mirror in step with the NVD feed.
//
// A run pages through the feed in increasing offset order, one page at a
// time, persisting each page before fetching the next. Full runs upsert every
// record; incremental runs are bounded by the stored watermark and only write
// records whose lastModified moved. The watermark advances only after an
// incremental run completed cleanly, so a crashed or failed run is simply
// re-covered by the next one.
//
// The mirror assumes a single active writer. Callers must not run two
// collections against the same store at once.
package collector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/ortelius/cve-mirror/internal/nvd"
	"github.com/ortelius/cve-mirror/model"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StopReason explains why a run's paging loop ended
type StopReason string

// Stop reasons
const (
	StopExhausted   StopReason = "exhausted"   // short page
	StopEmpty       StopReason = "empty"       // zero results
	StopForbidden   StopReason = "forbidden"   // HTTP 403
	StopMalformed   StopReason = "malformed"   // unexpected response shape
	StopUnavailable StopReason = "unavailable" // retries exhausted
	StopCanceled    StopReason = "canceled"

	// StopNoWatermark ends an incremental run before fetching because the
	// stored watermark could not be read.
	StopNoWatermark StopReason = "watermark_unreadable"
)

// Completed reports whether the feed was read to its end
func (r StopReason) Completed() bool {
	return r == StopExhausted || r == StopEmpty
}

// Run modes
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// RunResult summarizes one synchronization run
type RunResult struct {
	RunID             string     `json:"run_id"`
	Mode              string     `json:"mode"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        time.Time  `json:"finished_at"`
	WindowStart       *time.Time `json:"window_start,omitempty"`
	WindowEnd         *time.Time `json:"window_end,omitempty"`
	Pages             int        `json:"pages"`
	Fetched           int        `json:"fetched"`
	Written           int        `json:"written"`
	PersistErrors     int        `json:"persist_errors"`
	StopReason        StopReason `json:"stop_reason"`
	WatermarkAdvanced bool       `json:"watermark_advanced"`
}

// Succeeded reports whether every page was fetched and persisted
func (r RunResult) Succeeded() bool {
	return r.StopReason.Completed() && r.PersistErrors == 0
}

// PageFetcher returns one page of the upstream feed
type PageFetcher interface {
	FetchPage(ctx context.Context, q nvd.Query) (*model.Page, error)
}

// Store is what the collector needs from the document store
type Store interface {
	Mirror
	MetadataStore
}

// Options tune paging and the incremental window
type Options struct {
	PageSize  int
	PageDelay time.Duration
	Lookback  time.Duration
	MaxWindow time.Duration

	// Tracer and Meter default to the otel globals
	Tracer trace.Tracer
	Meter  metric.Meter
}

// OptionsFromConfig maps runtime settings onto collector options
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		PageSize:  cfg.NVD.PageSize,
		PageDelay: cfg.NVD.PageDelay,
		Lookback:  cfg.Sync.Lookback,
		MaxWindow: cfg.Sync.MaxWindow,
	}
}

// Collector drives full and incremental runs
type Collector struct {
	fetcher PageFetcher
	store   Store
	logger  *zap.Logger
	opts    Options
	tel     *telemetry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a collector reading from fetcher and writing to store
func New(fetcher PageFetcher, store Store, logger *zap.Logger, opts Options) *Collector {
	if opts.PageSize <= 0 {
		opts.PageSize = config.DefaultPageSize
	}
	if opts.Lookback <= 0 {
		opts.Lookback = config.DefaultLookback
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		opts:    opts,
		tel:     newTelemetry(opts.Tracer, opts.Meter),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// RunFull collects the whole feed with unconditional upserts
func (c *Collector) RunFull(ctx context.Context) RunResult {
	res, log := c.begin(ModeFull)
	ctx, span := c.tel.startRun(ctx, res)
	log.Info("Running full CVE collection")

	sink := NewSink(c.store, log)
	res.StopReason = c.pageThrough(ctx, log, sink, Bulk, window{}, &res)

	return c.finish(ctx, span, log, res)
}

// RunIncremental collects records modified since the watermark and advances it on success
func (c *Collector) RunIncremental(ctx context.Context) RunResult {
	res, log := c.begin(ModeIncremental)
	ctx, span := c.tel.startRun(ctx, res)
	now := res.StartedAt

	marks := NewWatermark(c.store, log)
	since, ok, err := marks.Get(ctx)
	if err != nil {
		res.StopReason = StopNoWatermark
		log.Error("Cannot determine update window, skipping run", zap.Error(err))
		span.RecordError(err)
		return c.finish(ctx, span, log, res)
	}
	if !ok {
		since = now.Add(-c.opts.Lookback)
		log.Info("No last sync time stored, using lookback", zap.Duration("lookback", c.opts.Lookback))
	}
	if since.After(now) {
		since = now
	}
	res.WindowStart, res.WindowEnd = &since, &now

	log.Info("Starting CVE update", zap.Time("since", since), zap.Time("until", now))

	sink := NewSink(c.store, log)
	windows := splitWindow(since, now, c.opts.MaxWindow)
	for i, w := range windows {
		if i > 0 {
			if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
				res.StopReason = StopCanceled
				break
			}
		}
		res.StopReason = c.pageThrough(ctx, log, sink, Conditional, w, &res)
		if !res.StopReason.Completed() {
			break
		}
	}

	if res.Succeeded() {
		if err := marks.Set(ctx, now); err == nil {
			res.WatermarkAdvanced = true
		}
	} else {
		log.Warn("Run incomplete, keeping previous last sync time",
			zap.String("stop_reason", string(res.StopReason)),
			zap.Int("persist_errors", res.PersistErrors))
	}

	return c.finish(ctx, span, log, res)
}

func (c *Collector) begin(mode string) (RunResult, *zap.Logger) {
	res := RunResult{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: c.now().UTC(),
	}
	return res, c.logger.With(zap.String("run_id", res.RunID), zap.String("mode", mode))
}

func (c *Collector) finish(ctx context.Context, span trace.Span, log *zap.Logger, res RunResult) RunResult {
	res.FinishedAt = c.now().UTC()
	c.tel.endRun(ctx, span, res)
	log.Info("Run finished",
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int("pages", res.Pages),
		zap.Int("fetched", res.Fetched),
		zap.Int("written", res.Written),
		zap.Int("persist_errors", res.PersistErrors),
		zap.Bool("watermark_advanced", res.WatermarkAdvanced),
		zap.Duration("time_took", res.FinishedAt.Sub(res.StartedAt)))
	return res
}

// pageThrough fetches and persists pages until the feed signals the end or fails
func (c *Collector) pageThrough(ctx context.Context, log *zap.Logger, sink *Sink, mode Mode, w window, res *RunResult) StopReason {
	startIndex := 0

	for {
		if ctx.Err() != nil {
			return StopCanceled
		}

		if reason, done := c.onePage(ctx, log, sink, mode, w, startIndex, res); done {
			return reason
		}

		startIndex += c.opts.PageSize
		if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
			return StopCanceled
		}
	}
}

// onePage fetches and persists the page at startIndex. done reports that paging must stop.
func (c *Collector) onePage(ctx context.Context, log *zap.Logger, sink *Sink, mode Mode, w window, startIndex int, res *RunResult) (reason StopReason, done bool) {
	ctx, span := c.tel.startPage(ctx, startIndex)
	defer span.End()

	page, err := c.fetcher.FetchPage(ctx, nvd.Query{
		StartIndex:     startIndex,
		ResultsPerPage: c.opts.PageSize,
		ModifiedAfter:  w.start,
		ModifiedBefore: w.end,
	})
	if err != nil {
		reason := stopReasonFor(err)
		span.RecordError(err)
		log.Warn("End of data / invalid data received from NVD API",
			zap.Int("start_index", startIndex),
			zap.String("stop_reason", string(reason)),
			zap.Error(err))
		return reason, true
	}
	res.Pages++

	count := len(page.Vulnerabilities)
	if count == 0 {
		c.tel.page(ctx, res.Mode, 0, false)
		log.Info("No more data available", zap.Int("start_index", startIndex))
		return StopEmpty, true
	}

	records, dropped := page.Records()
	if dropped > 0 {
		log.Warn("Dropped feed items without a CVE id", zap.Int("start_index", startIndex), zap.Int("dropped", dropped))
	}
	res.Fetched += len(records)

	written, err := sink.Persist(ctx, records, mode)
	res.Written += written
	if err != nil {
		res.PersistErrors++
		span.RecordError(err)
	}
	c.tel.page(ctx, res.Mode, written, err != nil)

	if count < c.opts.PageSize {
		log.Info("No more data available", zap.Int("start_index", startIndex), zap.Int("results", count))
		return StopExhausted, true
	}
	return "", false
}

func stopReasonFor(err error) StopReason {
	switch {
	case errors.Is(err, nvd.ErrForbidden):
		return StopForbidden
	case errors.Is(err, nvd.ErrMalformed):
		return StopMalformed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StopCanceled
	default:
		return StopUnavailable
	}
}

// window bounds an incremental query; the zero window is unbounded
type window struct {
	start time.Time
	end   time.Time
}

// splitWindow cuts [start, end] into consecutive windows no longer than maxSpan
func splitWindow(start, end time.Time, maxSpan time.Duration) []window {
	if maxSpan <= 0 || end.Sub(start) <= maxSpan {
		return []window{{start: start, end: end}}
	}

	var windows []window
	for from := start; from.Before(end); from = from.Add(maxSpan) {
		to := from.Add(maxSpan)
		if to.After(end) {
			to = end
		}
		windows = append(windows, window{start: from, end: to})
	}
	return windows
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
