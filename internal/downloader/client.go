package downloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	errs "sharecrawl/pkg/errors"
	"sharecrawl/pkg/logger"
)

// Client wraps an HTTP client with the fixed headers used for direct
// fetches from URLs extracted out of the rendered page
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	logger     logger.Logger
}

// NewClient creates a direct-fetch HTTP client
func NewClient(timeout time.Duration, userAgent, accept string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          accept,
			"Accept-Language": "en-US,en;q=0.9",
		},
		logger: log,
	}
}

// do performs a request with the configured headers and maps transport
// and status failures onto the error taxonomy
func (c *Client) do(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("network error: %v", err))
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode)
	}

	return resp, nil
}

// statusError maps an HTTP status code onto a typed error
func statusError(code int) error {
	switch {
	case code == http.StatusNotFound:
		return errs.NewWithCode(errs.ErrorTypeNotFound, "resource not found", code)
	case code == http.StatusTooManyRequests || code >= 500:
		return errs.NewWithCode(errs.ErrorTypeServerError, "server rejected request", code)
	default:
		return errs.NewWithCode(errs.ErrorTypeUnknown, "unexpected status", code)
	}
}

// ProbeSize issues a header-only request and returns the advertised
// content length, or -1 when the server does not report one
func (c *Client) ProbeSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("build HEAD request: %v", err))
	}

	resp, err := c.do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	return resp.ContentLength, nil
}

// Fetch issues a GET request for the full content. The caller owns the
// response body.
func (c *Client) Fetch(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("build GET request: %v", err))
	}

	return c.do(req)
}
