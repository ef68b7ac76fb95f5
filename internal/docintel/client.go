package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/landmarkops/delivery-notes/internal/common"
)

const apiVersion = "2023-07-31"

// FailureReason classifies terminal extraction failures for the orchestrator.
type FailureReason string

const (
	ReasonTimeout   FailureReason = "timeout"
	ReasonTransport FailureReason = "transport-error"
	ReasonRejected  FailureReason = "service-rejected"
)

// Failure is a terminal, classified extraction failure.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("extraction failed (%s)", f.Reason)
}

func (f *Failure) Unwrap() error {
	if f.Err != nil {
		return f.Err
	}
	return common.ErrTransport
}

// PollState is the outcome of a single poll.
type PollState int

const (
	Pending PollState = iota
	Succeeded
	Failed
)

// PollResult carries the outcome of one poll attempt. Payload is the raw,
// unmodified service response and is only set on Succeeded.
type PollResult struct {
	State   PollState
	Payload []byte
	Reason  string
}

// Config for the document-intelligence client.
type Config struct {
	Endpoint     string        // e.g. https://<res>.cognitiveservices.azure.com
	APIKey       string
	ModelID      string        // e.g. "prebuilt-document"
	PollInterval time.Duration // wait between polls, default 2s
	PollTimeout  time.Duration // wall-clock budget for one analysis, default 120s
	MaxRetries   int           // transient retry budget for submit, default 3
	Timeout      time.Duration // per-request http timeout
}

// Client submits analysis jobs to the external OCR service and polls the
// long-running operation until it settles.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	// sleep and now are injected so the poll/backoff schedule is testable
	// without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option mutates the client during construction.
type Option func(*Client)

// WithSleeper replaces the wait between retries and polls.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithClock replaces the wall clock used for the poll deadline.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "prebuilt-document"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   logger,
		sleep: sleepCtx,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit posts the document URL for analysis and returns the operation handle
// to poll. Transient failures (network, 5xx) are retried with exponential
// backoff up to MaxRetries; a 4xx is a rejection and is not retried.
func (c *Client) Submit(ctx context.Context, documentURL string) (string, error) {
	rid := uuid.New().String()
	analyzeURL := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.ModelID, apiVersion)

	body, err := json.Marshal(map[string]string{"urlSource": documentURL})
	if err != nil {
		return "", fmt.Errorf("marshal analyze request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Warn("docintel.submit.retry", "req_id", rid, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}

		op, retryable, err := c.submitOnce(ctx, analyzeURL, body)
		if err == nil {
			c.log.Info("docintel.submit.ok", "req_id", rid, "operation", op)
			return op, nil
		}
		if !retryable {
			c.log.Error("docintel.submit.rejected", "req_id", rid, "error", err)
			return "", &Failure{Reason: ReasonRejected, Err: err}
		}
		lastErr = err
	}

	c.log.Error("docintel.submit.exhausted", "req_id", rid, "attempts", c.cfg.MaxRetries, "error", lastErr)
	return "", &Failure{Reason: ReasonTransport, Err: lastErr}
}

func (c *Client) submitOnce(ctx context.Context, url string, body []byte) (op string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, err
	}
	defer closeBody(resp.Body, c.log)

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("analyze submit status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", false, fmt.Errorf("analyze submit status %d: %s", resp.StatusCode, raw)
	}

	op = resp.Header.Get("Operation-Location")
	if op == "" {
		op = resp.Header.Get("apim-request-id")
	}
	if op == "" {
		return "", false, fmt.Errorf("analyze response missing Operation-Location")
	}
	return op, false, nil
}

// Poll fetches the operation state once. Transport errors are returned to the
// caller; the bounded loop in Analyze decides whether to keep going.
func (c *Client) Poll(ctx context.Context, operation string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operation, nil)
	if err != nil {
		return PollResult{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return PollResult{}, err
	}
	defer closeBody(resp.Body, c.log)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PollResult{}, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	switch strings.ToLower(env.Status) {
	case "succeeded":
		return PollResult{State: Succeeded, Payload: raw}, nil
	case "failed":
		reason := "unknown error"
		if env.Error != nil && env.Error.Message != "" {
			reason = env.Error.Message
		}
		return PollResult{State: Failed, Reason: reason}, nil
	case "running", "notstarted", "":
		return PollResult{State: Pending}, nil
	default:
		return PollResult{}, fmt.Errorf("unexpected analyze status %q", env.Status)
	}
}

// Analyze runs the full submit-then-poll cycle and returns the raw service
// payload. Terminal failures come back as *Failure so the orchestrator can
// record the classified reason.
func (c *Client) Analyze(ctx context.Context, documentURL string) ([]byte, error) {
	operation, err := c.Submit(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	return c.PollUntilDone(ctx, operation)
}

// PollUntilDone polls the operation on the fixed interval until it settles.
// The loop is bounded by PollTimeout wall clock; transient poll errors are
// absorbed until the budget runs out.
func (c *Client) PollUntilDone(ctx context.Context, operation string) ([]byte, error) {
	start := c.now()
	deadline := start.Add(c.cfg.PollTimeout)
	polls := 0

	for c.now().Before(deadline) {
		res, err := c.Poll(ctx, operation)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("docintel.poll.transient", "operation", operation, "polls", polls, "error", err)
		} else {
			switch res.State {
			case Succeeded:
				c.log.Info("docintel.poll.succeeded", "operation", operation, "polls", polls,
					"elapsed_ms", c.now().Sub(start).Milliseconds())
				return res.Payload, nil
			case Failed:
				c.log.Error("docintel.poll.rejected", "operation", operation, "reason", res.Reason)
				return nil, &Failure{Reason: ReasonRejected, Err: fmt.Errorf("%s", res.Reason)}
			}
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	c.log.Error("docintel.poll.timeout", "operation", operation, "polls", polls, "budget", c.cfg.PollTimeout)
	return nil, &Failure{Reason: ReasonTimeout, Err: fmt.Errorf("no result after %s", c.cfg.PollTimeout)}
}

func closeBody(body io.ReadCloser, log *slog.Logger) {
	if err := body.Close(); err != nil {
		log.Warn("docintel.response_body_close_error", "error", err)
	}
}
