package matlib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// materialsPage is the response of GET /materials.
type materialsPage struct {
	// Results holds raw material objects so they can be cached verbatim.
	Results *[]json.RawMessage `json:"results"`
}

// catalogClient handles HTTP communication with the remote catalog.
type catalogClient struct {
	// baseURL is the base URL of the catalog (e.g., "https://matlibapi.stvcis.com/api").
	baseURL string

	// httpClient is used for HTTP requests.
	httpClient HTTPClient

	// logger receives diagnostic messages.
	logger Logger

	// initialBackoff and maxBackoff bound the delay between retries.
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// newCatalogClient creates a new catalog client.
// The baseURL is normalized by removing any trailing slashes.
func newCatalogClient(baseURL string, client HTTPClient, logger Logger) *catalogClient {
	if logger == nil {
		logger = nopLogger{}
	}
	return &catalogClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     client,
		logger:         logger,
		initialBackoff: InitialBackoff,
		maxBackoff:     MaxBackoff,
	}
}

// materialsURL returns the listing URL for one page of materials.
func (c *catalogClient) materialsURL(limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return c.baseURL + "/materials?" + q.Encode()
}

func (c *catalogClient) categoryURL(id string) string {
	return c.baseURL + "/categories/" + url.PathEscape(id)
}

func (c *catalogClient) packageURL(id string) string {
	return c.baseURL + "/packages/" + url.PathEscape(id)
}

func (c *catalogClient) renderURL(id string) string {
	return c.baseURL + "/renders/" + url.PathEscape(id)
}

// fetchMaterialsPage fetches one page of the material listing and returns
// the raw material objects.
func (c *catalogClient) fetchMaterialsPage(ctx context.Context, limit, offset int) ([]json.RawMessage, error) {
	data, err := c.getJSON(ctx, c.materialsURL(limit, offset))
	if err != nil {
		return nil, err
	}

	var page materialsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("parsing materials page at offset %d: %w", offset, ErrCatalogError)
	}
	if page.Results == nil {
		return nil, fmt.Errorf("materials page at offset %d: missing field %q: %w", offset, "results", ErrCatalogError)
	}
	return *page.Results, nil
}

// getJSON fetches a JSON document, retrying transient failures.
// The body is returned unparsed so callers can cache it verbatim.
func (c *catalogClient) getJSON(ctx context.Context, u string) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, u, func() error {
		resp, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s: %w: %w", u, ErrNetworkError, err)
		}
		return nil
	})
	return data, err
}

// stream fetches u and hands the body to fn together with the announced
// content length (-1 if unknown). fn is called again on retry, so it must
// discard whatever a previous attempt produced.
func (c *catalogClient) stream(ctx context.Context, u string, fn func(body io.Reader, size int64) error) error {
	return c.retry(ctx, u, func() error {
		resp, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return fn(resp.Body, resp.ContentLength)
	})
}

// get performs a single GET and classifies failures.
// On success the caller owns the response body.
func (c *catalogClient) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	c.logger.Debug("catalog request", "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetching %s: %w: %w", u, ErrNetworkError, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: status %d: %w", u, resp.StatusCode, ErrNetworkError)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: status %d: %w", u, resp.StatusCode, ErrCatalogError)
	}
}

// retry runs fn until it succeeds, fails permanently, or MaxRetries
// retries are exhausted. Delays double from initialBackoff up to maxBackoff.
func (c *catalogClient) retry(ctx context.Context, what string, fn func() error) error {
	backoff := c.initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) || attempt == MaxRetries {
			return err
		}

		c.logger.Warn("retrying catalog request", "url", what, "attempt", attempt+1, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// progressReader wraps an io.Reader and reports progress as bytes are read.
type progressReader struct {
	reader     io.Reader
	onProgress func(delta int64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 && pr.onProgress != nil {
		pr.onProgress(int64(n))
	}
	return
}
