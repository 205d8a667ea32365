// Package catalog retrieves experiment definitions from a Kinto-style remote
// settings service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"nimbus/internal/experiments/models"
)

const (
	DefaultBaseURL        = "https://kinto.dev.mozaws.net/v1/"
	DefaultCollectionName = "messaging-collection"
	DefaultBucketName     = "main"

	defaultTimeout  = 10 * time.Second
	maxResponseSize = 16 << 20
)

// Client fetches the records of one collection.
type Client struct {
	recordsURL string
	httpClient *http.Client
	timeout    time.Duration
	attempts   uint
	delay      time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetry retries retryable failures up to attempts times in total, backing
// off from delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.delay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient validates the endpoint and builds a Client for
// <baseURL>/buckets/<bucket>/collections/<collection>/records.
func NewClient(baseURL, collection, bucket string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	for name, segment := range map[string]string{"collection": collection, "bucket": bucket} {
		if strings.TrimSpace(segment) == "" || strings.Contains(segment, "/") {
			return nil, fmt.Errorf("invalid %s name %q", name, segment)
		}
	}

	c := &Client{
		recordsURL: u.JoinPath("buckets", bucket, "collections", collection, "records").String(),
		httpClient: &http.Client{Timeout: defaultTimeout},
		attempts:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// RecordsURL returns the endpoint the client reads from.
func (c *Client) RecordsURL() string {
	return c.recordsURL
}

// Fetch returns the published definitions in catalog order. Records that
// cannot be decoded individually are dropped and logged; an envelope that
// cannot be decoded fails the whole fetch.
func (c *Client) Fetch(ctx context.Context) ([]models.Experiment, error) {
	var experiments []models.Experiment
	err := retry.Do(
		func() error {
			var err error
			experiments, err = c.fetchOnce(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			if c.logger != nil {
				c.logger.Warn("catalog fetch failed, retrying", "attempt", attempt+1, "url", c.recordsURL, "error", err)
			}
		}),
	)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, classifyTransportError(err)
	}
	return experiments, nil
}

func (c *Client) fetchOnce(ctx context.Context) ([]models.Experiment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordsURL, nil)
	if err != nil {
		return nil, NewFetchError(ErrorNetwork, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	experiments, dropped, err := parseRecordsResponse(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}
	for _, d := range dropped {
		if c.logger != nil {
			c.logger.Warn("dropping malformed catalog record", "index", d.Index, "experiment_id", d.ID, "error", d.Err)
		}
	}
	return experiments, nil
}

// DroppedRecord describes a record that failed to decode.
type DroppedRecord struct {
	Index int
	ID    string
	Err   error
}

// parseRecordsResponse accepts the Kinto envelope {"data": [...]} or a bare
// JSON array.
func parseRecordsResponse(status int, body []byte) ([]models.Experiment, []DroppedRecord, error) {
	if status < 200 || status > 299 {
		fe := NewFetchError(ErrorNetwork, fmt.Sprintf("unexpected status %d", status), nil)
		fe.StatusCode = status
		fe.Retryable = status >= 500 || status == http.StatusTooManyRequests
		return nil, nil, fe
	}

	var raw []json.RawMessage
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, nil, NewFetchError(ErrorMalformedResponse, "decode records array", err)
		}
	default:
		var envelope struct {
			Data *[]json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, nil, NewFetchError(ErrorMalformedResponse, "decode records envelope", err)
		}
		if envelope.Data == nil {
			return nil, nil, NewFetchError(ErrorMalformedResponse, "records envelope has no data field", nil)
		}
		raw = *envelope.Data
	}

	experiments := make([]models.Experiment, 0, len(raw))
	var dropped []DroppedRecord
	for i, r := range raw {
		var e models.Experiment
		if err := json.Unmarshal(r, &e); err != nil {
			dropped = append(dropped, DroppedRecord{Index: i, ID: recordID(r), Err: err})
			continue
		}
		experiments = append(experiments, e)
	}
	return experiments, dropped, nil
}

func recordID(r json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(r, &probe)
	return probe.ID
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFetchError(ErrorTimeout, "request deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewFetchError(ErrorTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		fe := NewFetchError(ErrorNetwork, "request cancelled", err)
		fe.Retryable = false
		return fe
	}
	return NewFetchError(ErrorNetwork, "request failed", err)
}
