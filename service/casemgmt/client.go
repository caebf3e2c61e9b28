package casemgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hmlr/titlewatch/service/metrics"
	"github.com/hmlr/titlewatch/service/retry"
)

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Client is the HTTP client for the case-management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a new case-management client. If httpClient is nil an
// instrumented client with a 15 second timeout is used.
func NewClient(baseURL string, httpClient *http.Client, policy retry.Policy, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = metrics.NewHTTPClient(m, "case_management", 15*time.Second)
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		retry:      policy,
		metrics:    m,
		logger:     logger,
	}
}

func (c *Client) caseURL(reference string) string {
	return fmt.Sprintf("%s/cases/%s", c.baseURL, url.PathEscape(reference))
}

// GetCase fetches a case record. A body that is not a case record is
// reported as a *MappingError.
func (c *Client) GetCase(ctx context.Context, reference string) (*CaseRecord, error) {
	body, err := c.do(ctx, http.MethodGet, c.caseURL(reference), nil)
	if err != nil {
		return nil, err
	}

	var record CaseRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, &MappingError{Err: fmt.Errorf("failed to decode case %s: %w", reference, err)}
	}

	c.logger.DebugContext(ctx, "case fetched", "case_reference", reference)
	return &record, nil
}

// UpdateCase replaces the case's mapped fields.
func (c *Client) UpdateCase(ctx context.Context, reference string, update *CaseUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPut, c.caseURL(reference), payload); err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "case updated", "case_reference", reference)
	return nil
}

// do issues one request with transport-level retries and expects 200.
func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	policy := c.retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.metrics.RecordRetry("case_management")
		c.logger.WarnContext(ctx, "case-management call failed, retrying",
			"method", method,
			"url", u,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	}

	var body []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{Method: method, StatusCode: resp.StatusCode, Body: string(data)}
			if retry.RetryableStatus(resp.StatusCode) {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}

		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
