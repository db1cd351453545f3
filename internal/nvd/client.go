// Package nvd fetches pages from the NVD CVE API 2.0.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/ortelius/cve-mirror/model"
	"github.com/ortelius/cve-mirror/util"
	"go.uber.org/zap"
)

var (
	// ErrForbidden means the feed refused access; the session should stop.
	ErrForbidden = errors.New("nvd: access forbidden")

	// ErrMalformed covers non-retryable statuses and responses without the expected shape.
	ErrMalformed = errors.New("nvd: malformed response")

	// ErrUnavailable is returned once retryable failures exhaust the attempt budget.
	ErrUnavailable = errors.New("nvd: retries exhausted")
)

// supportedVersions is the range of feed schema versions this client understands
var supportedVersions = mustConstraint(">= 2.0, < 3.0")

// StatusError is a non-2xx response from the feed
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nvd: HTTP %d for %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth another attempt
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Query selects one page of the feed. Zero window bounds are omitted.
type Query struct {
	StartIndex     int
	ResultsPerPage int
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// Values encodes the query string parameters
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("startIndex", strconv.Itoa(q.StartIndex))
	v.Set("resultsPerPage", strconv.Itoa(q.ResultsPerPage))
	if !q.ModifiedAfter.IsZero() {
		v.Set("lastModStartDate", util.FormatNVDTime(q.ModifiedAfter))
	}
	if !q.ModifiedBefore.IsZero() {
		v.Set("lastModEndDate", util.FormatNVDTime(q.ModifiedBefore))
	}
	return v
}

// Client talks to the feed over a shared http.Client
type Client struct {
	baseURL        string
	apiKey         string
	maxAttempts    int
	backoffInitial time.Duration
	backoffJitter  float64
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewClient builds a client from the NVD settings
func NewClient(cfg config.NVD, logger *zap.Logger) *Client {
	return &Client{
		baseURL:        cfg.URL,
		apiKey:         cfg.APIKey,
		maxAttempts:    cfg.MaxAttempts,
		backoffInitial: cfg.BackoffInitial,
		backoffJitter:  cfg.BackoffJitter,
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		logger:         logger,
	}
}

// newBackOff yields initial, 2*initial, 4*initial, ... between attempts
func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffInitial
	bo.Multiplier = 2
	bo.RandomizationFactor = c.backoffJitter
	bo.MaxInterval = c.backoffInitial << uint(c.maxAttempts)
	bo.MaxElapsedTime = 0
	bo.Reset()

	return backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1))
}

// FetchPage returns one page of the feed.
// Errors are ErrForbidden (no retry), ErrMalformed (no retry) or ErrUnavailable
// after the attempt budget is spent on 429, 5xx or transport failures.
func (c *Client) FetchPage(ctx context.Context, q Query) (*model.Page, error) {
	var page *model.Page
	var terminal error
	attempt := 0

	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			terminal = err
			return nil
		}

		p, err := c.fetchOnce(ctx, q)
		if err == nil {
			page = p
			return nil
		}

		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.Retryable():
			return err
		case errors.Is(err, ErrForbidden), errors.Is(err, ErrMalformed):
			terminal = err
			return nil
		case ctx.Err() != nil:
			terminal = ctx.Err()
			return nil
		default:
			// transport failure
			return err
		}
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Retrying NVD fetch",
			zap.Int("start_index", q.StartIndex),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Warn("NVD fetch canceled during backoff", zap.Int("start_index", q.StartIndex), zap.Error(ctxErr))
			return nil, ctxErr
		}
		c.logger.Error("NVD fetch failed after retries",
			zap.Int("start_index", q.StartIndex),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if terminal != nil {
		c.logger.Error("NVD fetch stopped", zap.Int("start_index", q.StartIndex), zap.Error(terminal))
		return nil, terminal
	}

	return page, nil
}

func (c *Client) fetchOnce(ctx context.Context, q Query) (*model.Page, error) {
	reqURL := c.baseURL + "?" + q.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, reqURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode, URL: reqURL}
		_, _ = io.Copy(io.Discard, resp.Body)
		if statusErr.Retryable() {
			return nil, statusErr
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, statusErr)
	}

	var page model.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrMalformed, err)
	}

	if page.Vulnerabilities == nil {
		return nil, fmt.Errorf("%w: no vulnerabilities in response at index %d", ErrMalformed, q.StartIndex)
	}

	if page.Version != "" {
		version, err := semver.NewVersion(page.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: feed version %q: %v", ErrMalformed, page.Version, err)
		}
		if !supportedVersions.Check(version) {
			return nil, fmt.Errorf("%w: unsupported feed version %s", ErrMalformed, page.Version)
		}
	}

	return &page, nil
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}
