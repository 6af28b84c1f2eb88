package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/metrics"
	"github.com/quantumflow/nevra/internal/models"
)

// Config holds the inference client configuration
type Config struct {
	URL         string        // Default: http://localhost:3000/api/generate
	APIKey      string        // Sent as a bearer token when set
	Timeout     time.Duration // Per HTTP attempt
	MaxAttempts int           // Default: 5
	BaseDelay   time.Duration // Default: 1s, doubled per attempt
	MaxDelay    time.Duration // Default: 60s
	RateLimit   float64       // Requests per second, 0 disables limiting
	Burst       int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		URL:         "http://localhost:3000/api/generate",
		Timeout:     2 * time.Minute,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		RateLimit:   5,
		Burst:       5,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
}

// CompletionRequest is the body posted to the generative backend
type CompletionRequest struct {
	Prompt       string           `json:"prompt"`
	History      []models.Message `json:"history,omitempty"`
	Mode         models.Mode      `json:"mode,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Images       []string         `json:"images,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	Model        string           `json:"model,omitempty"`
}

// completionResponse is the body returned by the generative backend
type completionResponse struct {
	Content string `json:"content"`
}

// Completion holds the final result of a backend call
type Completion struct {
	Content    string
	Model      string
	TokensUsed int
	Attempts   int
	Latency    time.Duration
}

// Completer is the single primitive every agent calls
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// StatusError is returned for non-2xx backend responses
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying (429 or 5xx)
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// transportError marks a failed round trip, which is always retryable
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsRetryable reports whether err is a transient backend failure
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

// ErrRetriesExhausted wraps the last error once the attempt ceiling is hit
var ErrRetriesExhausted = errors.New("backend retries exhausted")

// Client is the resilient HTTP client for the generative backend
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new inference client. logger and m may be nil.
func NewClient(config *Config, logger *logging.Logger, m *metrics.Metrics) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: limiter,
		logger:  logger.Named("inference"),
		metrics: m,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepContext,
	}
}

// Complete posts the request and returns the generated content. 429, 5xx
// and transport failures are retried with exponential backoff; any other
// non-2xx status is returned immediately.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	if req == nil {
		return nil, errors.New("completion request is nil")
	}

	startTime := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}
		}

		content, err := c.doRequest(ctx, body)
		if err == nil {
			latency := time.Since(startTime)
			c.metrics.RecordBackendCall(req.Model, nil, latency)
			return &Completion{
				Content:    content,
				Model:      req.Model,
				TokensUsed: countTokens(req.Prompt) + countTokens(req.SystemPrompt) + countTokens(content),
				Attempts:   attempt,
				Latency:    latency,
			}, nil
		}

		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt == c.config.MaxAttempts {
			lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
			break
		}

		delay := c.backoff(attempt, err)
		c.metrics.RecordBackendRetry(retryReason(err))
		c.logger.Warn(ctx, "backend call failed, retrying",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	c.metrics.RecordBackendCall(req.Model, lastErr, time.Since(startTime))
	return nil, lastErr
}

// doRequest performs a single HTTP round trip
func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &transportError{err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 512),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var out completionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return out.Content, nil
}

// backoff returns the delay before the next attempt: a server supplied
// Retry-After wins, otherwise base*2^(attempt-1) capped at MaxDelay, plus
// jitter in [0, BaseDelay).
func (c *Client) backoff(attempt int, err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		if statusErr.RetryAfter > c.config.MaxDelay {
			return c.config.MaxDelay
		}
		return statusErr.RetryAfter
	}

	delay := c.config.BaseDelay << uint(attempt-1)
	if delay <= 0 || delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	if c.config.BaseDelay > 0 {
		c.mu.Lock()
		delay += time.Duration(c.rng.Int63n(int64(c.config.BaseDelay)))
		c.mu.Unlock()
	}
	return delay
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func retryReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "server_error"
	}
	return "transport"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// countTokens estimates token count (rough approximation)
func countTokens(text string) int {
	return len(text) / 4
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
