// Package dawson is the API client for the court's public document
// service. It owns all network interaction: connection pooling, rate
// limiting, per-call timeouts, and the retry policy. It holds no
// persistent state and is safe to share across workers.
package dawson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmarcus006/web-scraper-legal/pkg/config"
	"github.com/mmarcus006/web-scraper-legal/pkg/errors"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
	"github.com/mmarcus006/web-scraper-legal/pkg/models"
	"github.com/mmarcus006/web-scraper-legal/pkg/ratelimit"
	"github.com/mmarcus006/web-scraper-legal/pkg/retry"
)

// Client talks to the remote opinion service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    ratelimit.Limiter
	retryCfg   *retry.Config
	logger     logger.Logger
}

// New creates a Client from the API configuration. The limiter is
// shared by all calls regardless of which worker issues them.
func New(cfg *config.APIConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	retryCfg := &retry.Config{
		MaxAttempts: cfg.MaxRetries,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.RetryDelay,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: retry.DefaultRetryIf,
		Logger:  log,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
		},
		limiter:  ratelimit.NewTokenBucket(cfg.RequestsPerSecond, time.Second, cfg.RequestBurst),
		retryCfg: retryCfg,
		logger:   log,
	}
}

// SetHeader overrides a default request header.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// get performs a single rate-limited GET and classifies failures. The
// caller owns the response body on success.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.New(errors.KindUnknown, 0, "creating request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation must surface as-is so retries stop.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WarnWithFields("request failed", map[string]interface{}{
			"url":      rawURL,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, errors.New(errors.KindNetwork, 0, "network error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := errors.KindForStatusCode(resp.StatusCode)
		resp.Body.Close()
		c.logger.WarnWithFields("unexpected response status", map[string]interface{}{
			"url":    rawURL,
			"status": resp.StatusCode,
		})
		return nil, errors.New(kind, resp.StatusCode, "server returned status %d", resp.StatusCode)
	}

	c.logger.DebugWithFields("request completed", map[string]interface{}{
		"url":      rawURL,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})
	return resp, nil
}

// getWithRetry wraps get in the configured retry policy.
func (c *Client) getWithRetry(ctx context.Context, rawURL string) (*http.Response, error) {
	return retry.DoWithResult(ctx, func() (*http.Response, error) {
		return c.get(ctx, rawURL)
	}, c.retryCfg)
}

// getJSON performs a retried GET and decodes the body into target.
func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	resp, err := c.getWithRetry(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(errors.KindNetwork, resp.StatusCode, "reading response body: %v", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse response", map[string]interface{}{
			"url":          rawURL,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errors.New(errors.KindParsing, resp.StatusCode, "parsing response: %v", err)
	}
	return nil
}

// apiDate formats a window boundary the way the search endpoint
// expects: MM/DD/YYYY.
func apiDate(t time.Time) string {
	return t.Format("01/02/2006")
}

// SearchOpinions fetches all opinions filed in [from, to]. Items
// missing the docket entry id (or carrying a malformed one) are
// dropped with a warning rather than failing the whole window.
func (c *Client) SearchOpinions(ctx context.Context, from, to time.Time) ([]models.Opinion, error) {
	params := url.Values{}
	params.Set("from", apiDate(from))
	params.Set("to", apiDate(to))
	searchURL := fmt.Sprintf("%s/opinion-search?%s", c.baseURL, params.Encode())

	c.logger.InfoWithFields("searching opinions", map[string]interface{}{
		"from": apiDate(from),
		"to":   apiDate(to),
	})

	var raw json.RawMessage
	if err := c.getJSON(ctx, searchURL, &raw); err != nil {
		return nil, err
	}

	// The endpoint returns either a bare array or {"opinions": [...]}.
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Opinions []json.RawMessage `json:"opinions"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, errors.New(errors.KindParsing, 0, "unexpected search response shape")
		}
		items = wrapped.Opinions
	}

	opinions := make([]models.Opinion, 0, len(items))
	for _, item := range items {
		var op models.Opinion
		if err := json.Unmarshal(item, &op); err != nil {
			c.logger.WarnWithFields("dropping unparseable opinion", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if err := op.Validate(); err != nil {
			c.logger.WarnWithFields("dropping invalid opinion", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		opinions = append(opinions, op)
	}

	c.logger.InfoWithFields("search complete", map[string]interface{}{
		"from":  apiDate(from),
		"to":    apiDate(to),
		"found": len(opinions),
	})
	return opinions, nil
}

// ResolveDownloadURL resolves the short-lived download URL for a
// document. The endpoint returns {"url": "..."} or a bare string.
func (c *Client) ResolveDownloadURL(ctx context.Context, docketNumber, docketEntryID string) (string, error) {
	resolveURL := fmt.Sprintf("%s/%s/%s/public-document-download-url",
		c.baseURL, url.PathEscape(docketNumber), url.PathEscape(docketEntryID))

	var raw json.RawMessage
	if err := c.getJSON(ctx, resolveURL, &raw); err != nil {
		return "", err
	}

	var wrapped struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.URL != "" {
		return wrapped.URL, nil
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil && bare != "" {
		return bare, nil
	}
	return "", errors.New(errors.KindParsing, 0,
		"download URL missing from response for %s/%s", docketNumber, docketEntryID)
}

// FetchDocument streams the document at url. Retries cover obtaining
// the response; a failure while reading the stream surfaces to the
// caller, whose record goes back to failed and is retried on a later
// claim. The caller must close the reader.
func (c *Client) FetchDocument(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	resp, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}
