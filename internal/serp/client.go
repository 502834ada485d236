package serp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/config"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/retry"
	"github.com/rank-tracker/internal/types"
)

// Client fetches search results pages from the upstream search API.
// Page requests are paced by a rate limiter: the upstream provider throttles
// and blocks bursty callers, so the inter-page delay is a correctness
// requirement rather than politeness.
type Client struct {
	baseURL     string
	apiKey      string
	pageSize    int
	pageTimeout func() (context.Context, context.CancelFunc)
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryCfg    *retry.Config
}

// FetchParams parameterizes one keyword fetch
type FetchParams struct {
	Keyword      string
	CountryID    int
	LanguageCode string
	Device       types.Device
	TopResults   int
	LocationID   *int
}

// NewClient creates a new search API client
func NewClient(cfg *config.SerpConfig) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	// One page request per InterPageDelay, with a burst of one so the first
	// page of a fetch never waits.
	limiter := rate.NewLimiter(rate.Every(cfg.InterPageDelay), 1)
	if cfg.InterPageDelay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	pageTimeout := cfg.PageTimeout
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		pageTimeout: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), pageTimeout)
		},
		httpClient: &http.Client{},
		limiter:    limiter,
		retryCfg: &retry.Config{
			MaxAttempts:  2,
			InitialDelay: cfg.InterPageDelay,
			MaxDelay:     10 * cfg.InterPageDelay,
			Multiplier:   2.0,
		},
	}
}

// Fetch retrieves up to params.TopResults ordered organic results for one
// keyword, requesting fixed-size pages sequentially. Each page request
// carries an absolute position offset so positions are globally consistent.
//
// Partial-result policy: a failure on page 1 fails the whole fetch; a
// failure on a later page returns the pages already fetched.
func (c *Client) Fetch(ctx context.Context, params FetchParams) ([]types.SerpResult, error) {
	logger := logging.FromContext(ctx).WithField("keyword", params.Keyword)

	if params.Keyword == "" {
		return nil, apperrors.NewFetchError(apperrors.CodeEmptyQuery, "search query is empty", nil)
	}
	if params.TopResults <= 0 {
		params.TopResults = c.pageSize
	}

	pages := (params.TopResults + c.pageSize - 1) / c.pageSize
	results := make([]types.SerpResult, 0, params.TopResults)

	for page := 1; page <= pages; page++ {
		pageResults, err := c.fetchPage(ctx, params, page, len(results)+1)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			// Best-effort degrade: keep what earlier pages produced.
			logger.WithFields(map[string]interface{}{
				"page":  page,
				"error": err.Error(),
			}).Warn("Page fetch failed, returning partial results")
			break
		}
		results = append(results, pageResults...)
	}

	if len(results) > params.TopResults {
		results = results[:params.TopResults]
	}
	return results, nil
}

// fetchPage requests a single results page, bounded by the page timeout and
// paced by the shared limiter. Retryable upstream failures (rate limited,
// maintenance) get one backoff retry before the error surfaces.
func (c *Client) fetchPage(ctx context.Context, params FetchParams, page, startPosition int) ([]types.SerpResult, error) {
	var results []types.SerpResult

	err := retry.Do(ctx, c.retryCfg, apperrors.IsRetryable, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.doRequest(ctx, params, page)
		if err != nil {
			return err
		}

		parsed, err := parsePage(body, startPosition)
		if err != nil {
			return err
		}
		results = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) doRequest(ctx context.Context, params FetchParams, page int) ([]byte, error) {
	reqCtx, cancel := c.pageTimeout()
	defer cancel()

	// Honor caller cancellation alongside the page deadline.
	reqCtx, stop := mergeCancel(reqCtx, ctx)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.pageURL(params, page), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewFetchTimeoutError(params.Keyword, page, err)
		}
		return nil, apperrors.NewFetchError(apperrors.CodeUpstreamError, "search API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// The page deadline can also fire mid-body.
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewFetchTimeoutError(params.Keyword, page, err)
		}
		return nil, apperrors.NewFetchError(apperrors.CodeUpstreamError, "failed to read search API response", err)
	}
	return body, nil
}

// pageURL builds the request URL for one page. The "start" parameter is the
// absolute offset of the page's first entry: (page-1)*pageSize + 1.
func (c *Client) pageURL(params FetchParams, page int) string {
	q := url.Values{}
	q.Set("q", params.Keyword)
	q.Set("country", strconv.Itoa(params.CountryID))
	q.Set("hl", params.LanguageCode)
	q.Set("device", string(params.Device))
	q.Set("num", strconv.Itoa(c.pageSize))
	q.Set("start", strconv.Itoa((page-1)*c.pageSize+1))
	if params.LocationID != nil {
		q.Set("location", strconv.Itoa(*params.LocationID))
	}
	q.Set("api_key", c.apiKey)

	return c.baseURL + "?" + q.Encode()
}

// mergeCancel cancels the primary context as soon as secondary is done
func mergeCancel(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
