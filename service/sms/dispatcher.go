package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hmlr/titlewatch/service/metrics"
	"github.com/hmlr/titlewatch/service/retry"
	"golang.org/x/time/rate"
)

// Outcome classifies a dispatch attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
	// OutcomeUnknown means the provider accepted the request but its reply
	// could not be read, so the message may or may not have gone out.
	OutcomeUnknown Outcome = "unknown"
)

// Failure reasons reported in Result.Reason besides the RejectionReasons.
const (
	ReasonMissingConfig      = "missing configuration"
	ReasonTrialUnverified    = "number not verified for trial sending"
	ReasonProviderRejected   = "provider rejected"
	ReasonUnexpectedStatus   = "unexpected status"
	ReasonTransport          = "transport error"
	ReasonUnreadableResponse = "unreadable response"
)

// ErrorCodeTrialUnverified is the provider's code for sending from a trial
// account to a number that has not been verified.
const ErrorCodeTrialUnverified = 21608

// Result is the outcome of one Send.
type Result struct {
	Outcome        Outcome
	Reason         string
	Template       string
	Recipient      string
	Body           string
	ProviderID     string
	Segments       int
	DeliveryStatus string
	StatusCode     int
	ErrorCode      int
	Err            error
}

// Sent reports whether the provider confirmed the message.
func (r Result) Sent() bool {
	return r.Outcome == OutcomeSent
}

// DispatcherConfig contains the provider credentials and dependencies.
type DispatcherConfig struct {
	APIURL     string // e.g. https://api.twilio.com
	AccountSID string
	AuthToken  string
	FromNumber string
	Trial      bool

	Timeout       time.Duration // per attempt, defaults to 10s
	RatePerSecond float64       // <= 0 disables limiting
	Retry         retry.Policy

	HTTPClient *http.Client     // Optional: built from Timeout when nil
	Metrics    *metrics.Metrics // Optional
	Logger     *slog.Logger
}

// Dispatcher sends SMS messages through a Twilio-compatible API.
// Each call is synchronous; failures are reported, never retried beyond
// transport-level errors.
type Dispatcher struct {
	cfg        DispatcherConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. Missing credentials are not an error
// here; Send reports them per call.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.twilio.com"
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = metrics.NewHTTPClient(cfg.Metrics, "twilio", cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Dispatcher{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "sms_dispatcher"),
	}
}

// Send resolves the template and delivers it to a validated recipient.
// The resolved body is kept on rejected results so they can be resent.
func (d *Dispatcher) Send(ctx context.Context, recipient string, t Template, infills ...string) Result {
	res := Result{
		Template:  t.Name,
		Recipient: recipient,
		Body:      Resolve(t, d.cfg.Trial, infills...),
	}

	if err := ValidatePhoneNumber(recipient); err != nil {
		return d.reject(ctx, res, err)
	}

	return d.deliver(ctx, res)
}

// SendBody delivers an already resolved body, e.g. when an operator
// re-sends a journaled message.
func (d *Dispatcher) SendBody(ctx context.Context, recipient, templateName, body string) Result {
	res := Result{Template: templateName, Recipient: recipient, Body: body}

	if err := ValidatePhoneNumber(recipient); err != nil {
		return d.reject(ctx, res, err)
	}

	return d.deliver(ctx, res)
}

func (d *Dispatcher) reject(ctx context.Context, res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	var rejected *RejectedNumberError
	if errors.As(err, &rejected) {
		res.Reason = string(rejected.Reason)
	}
	return d.finish(ctx, res, "phone number rejected, not sending SMS")
}

// messageResponse is the provider's reply to a created message.
type messageResponse struct {
	SID         string       `json:"sid"`
	NumSegments *flexibleInt `json:"num_segments"`
	Status      string       `json:"status"`
}

// errorResponse is the provider's reply to a rejected request.
type errorResponse struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// flexibleInt accepts both "2" and 2; the provider sends counts as strings.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", data, err)
	}
	*f = flexibleInt(n)
	return nil
}

// httpReply is the final response seen after retries.
type httpReply struct {
	status int
	body   []byte
}

// transientStatusError marks a retryable HTTP status.
type transientStatusError struct {
	reply httpReply
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("provider returned %d", e.reply.status)
}

func (d *Dispatcher) deliver(ctx context.Context, res Result) Result {
	switch {
	case d.cfg.AccountSID == "":
		res.Err = errors.New("TWILIO_ACCOUNT_SID is not set")
	case d.cfg.AuthToken == "":
		res.Err = errors.New("TWILIO_AUTH_TOKEN is not set")
	case d.cfg.FromNumber == "":
		res.Err = errors.New("TWILIO_PHONE_NUMBER is not set")
	}
	if res.Err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = ReasonMissingConfig
		return d.finish(ctx, res, "SMS provider is not configured, not sending SMS")
	}

	policy := d.cfg.Retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.metrics.RecordRetry("twilio")
		d.logger.WarnContext(ctx, "SMS provider call failed, retrying",
			"recipient", res.Recipient,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}

	var reply httpReply
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		// Every provider attempt, retries included, spends a token.
		if err := d.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		r, err := d.post(ctx, res.Recipient, res.Body)
		if err != nil {
			return err
		}
		if retry.RetryableStatus(r.status) {
			return &transientStatusError{reply: r}
		}
		reply = r
		return nil
	})
	if err != nil {
		var transient *transientStatusError
		if errors.As(err, &transient) {
			reply = transient.reply
		} else {
			res.Outcome = OutcomeFailed
			res.Reason = ReasonTransport
			res.Err = err
			return d.finish(ctx, res, "SMS provider unreachable, SMS not sent")
		}
	}

	return d.interpret(ctx, res, reply)
}

func (d *Dispatcher) post(ctx context.Context, recipient, body string) (httpReply, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", d.cfg.APIURL, url.PathEscape(d.cfg.AccountSID))
	form := url.Values{
		"From": {d.cfg.FromNumber},
		"To":   {recipient},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return httpReply{}, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return httpReply{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpReply{}, fmt.Errorf("failed to read response: %w", err)
	}

	return httpReply{status: resp.StatusCode, body: data}, nil
}

func (d *Dispatcher) interpret(ctx context.Context, res Result, reply httpReply) Result {
	res.StatusCode = reply.status

	switch reply.status {
	case http.StatusCreated:
		var msg messageResponse
		if err := json.Unmarshal(reply.body, &msg); err != nil || msg.SID == "" || msg.Status == "" || msg.NumSegments == nil {
			if err == nil {
				err = errors.New("response is missing sid, status or num_segments")
			}
			res.Outcome = OutcomeUnknown
			res.Reason = ReasonUnreadableResponse
			res.Err = fmt.Errorf("%w: %s", err, reply.body)
			return d.finish(ctx, res, "unknown if SMS was sent, cannot read response from provider")
		}
		res.Outcome = OutcomeSent
		res.ProviderID = msg.SID
		res.Segments = int(*msg.NumSegments)
		res.DeliveryStatus = msg.Status
		return d.finish(ctx, res, "SMS sent")

	case http.StatusBadRequest:
		var perr errorResponse
		if err := json.Unmarshal(reply.body, &perr); err == nil && perr.Code != nil {
			res.Outcome = OutcomeFailed
			res.ErrorCode = *perr.Code
			if *perr.Code == ErrorCodeTrialUnverified {
				res.Reason = ReasonTrialUnverified
				res.Err = fmt.Errorf("phone number %q is not a verified number for the trial account", res.Recipient)
			} else {
				res.Reason = ReasonProviderRejected
				res.Err = fmt.Errorf("provider returned error code %d: %s", *perr.Code, perr.Message)
			}
			return d.finish(ctx, res, "SMS provider rejected the message")
		}
	}

	res.Outcome = OutcomeFailed
	res.Reason = ReasonUnexpectedStatus
	res.Err = fmt.Errorf("provider returned %d: %s", reply.status, reply.body)
	return d.finish(ctx, res, "SMS provider returned an unexpected status")
}

// finish logs and records the result.
func (d *Dispatcher) finish(ctx context.Context, res Result, msg string) Result {
	d.metrics.RecordSMSDispatch(res.Template, string(res.Outcome), res.Reason)

	switch res.Outcome {
	case OutcomeSent:
		d.logger.InfoContext(ctx, msg,
			"sid", res.ProviderID,
			"recipient", res.Recipient,
			"template", res.Template,
			"segments", res.Segments,
			"status", res.DeliveryStatus,
		)
	case OutcomeUnknown:
		d.logger.ErrorContext(ctx, msg,
			"outcome", res.Outcome,
			"recipient", res.Recipient,
			"template", res.Template,
			"body", res.Body,
			"error", res.Err,
		)
	default:
		d.logger.ErrorContext(ctx, msg,
			"reason", res.Reason,
			"recipient", res.Recipient,
			"template", res.Template,
			"body", res.Body,
			"status_code", res.StatusCode,
			"error_code", res.ErrorCode,
			"error", res.Err,
		)
	}
	return res
}
