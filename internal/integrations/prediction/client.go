package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"coronabot-fulfillment/internal/domain"
)

const (
	defaultAttemptTimeout = 3 * time.Second
	defaultMaxRetries     = 2
	defaultInitialBackoff = 200 * time.Millisecond
	maxBackoffInterval    = time.Second
)

// ErrUnavailable is wrapped by every error Predict returns.
var ErrUnavailable = errors.New("prediction: service unavailable")

// predictResponse is the JSON shape returned by the /predict endpoint.
type predictResponse struct {
	Result []float64 `json:"result"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("prediction: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the remote scoring service and builds URLs for its
// explanation plots.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxRetries      uint64
	initialBackoff  time.Duration
	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
	logger          *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetry sets how many extra attempts a transient failure gets and the
// first backoff interval.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = uint64(maxRetries)
		if initialBackoff > 0 {
			c.initialBackoff = initialBackoff
		}
	}
}

// WithBreaker replaces the default circuit breaker settings. A nil
// OnStateChange logs transitions through the client logger.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breakerSettings = st
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("prediction: base URL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("prediction: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("prediction: unsupported base URL scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: defaultAttemptTimeout},
		maxRetries:      defaultMaxRetries,
		initialBackoff:  defaultInitialBackoff,
		breakerSettings: defaultBreakerSettings(),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	st := c.breakerSettings
	if st.OnStateChange == nil {
		logger := c.logger
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c, nil
}

func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:    "prediction",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// resolvedHTTPClient returns the configured HTTP client, or a default with the
// per-attempt timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultAttemptTimeout}
}

// Predict returns the probability the service assigns to the profile.
// Transport errors, 429 and 5xx responses are retried with exponential
// backoff; everything else fails immediately.
func (c *Client) Predict(ctx context.Context, p domain.Profile) (float64, error) {
	endpoint := c.endpoint("predict", profileQuery(p))

	var probability float64
	attempt := func() error {
		raw, err := c.fetch(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		probability, err = decodeProbability(raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return probability, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = maxBackoffInterval
	b.MaxElapsedTime = 0
	return b
}

// BreakDownURL returns the image URL of the break-down plot for the profile.
func (c *Client) BreakDownURL(p domain.Profile) string {
	return c.endpoint("break_down", profileQuery(p))
}

// CeterisParibusURL returns the image URL of the ceteris-paribus plot that
// varies focus while the rest of the profile stays fixed.
func (c *Client) CeterisParibusURL(p domain.Profile, focus string) string {
	return c.endpoint("ceteris_paribus", profileQuery(p)+"&variable="+url.QueryEscape(focus))
}

func (c *Client) endpoint(path, query string) string {
	return c.baseURL + "/" + path + "?" + query
}

// profileQuery encodes the slots in their fixed order age, gender, country.
func profileQuery(p domain.Profile) string {
	parts := make([]string, 0, 3)
	for _, slot := range domain.Slots() {
		parts = append(parts, slot+"="+url.QueryEscape(p.Value(slot)))
	}
	return strings.Join(parts, "&")
}

// fetch runs one attempt through the breaker. Client errors and the
// caller's own cancellation are returned without counting as breaker
// failures.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	var uncounted error
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			uncounted = fmt.Errorf("prediction: create request: %w", err)
			return nil, nil
		}
		req.Header.Set("Accept", "application/json")
		buf, err := c.doJSONRequest(req, endpoint)
		if err != nil && !breakerFailure(ctx, err) {
			uncounted = err
			return nil, nil
		}
		return buf, err
	})
	if err != nil {
		return nil, err
	}
	if uncounted != nil {
		return nil, uncounted
	}
	return out.([]byte), nil
}

// breakerFailure reports whether err says the service is unhealthy.
func breakerFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("prediction: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("prediction: read response body: %w", err)
	}
	return buf, nil
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

func decodeProbability(raw []byte) (float64, error) {
	var payload predictResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("prediction: decode response: %w", err)
	}
	if len(payload.Result) == 0 {
		return 0, errors.New("prediction: no result in response")
	}
	p := payload.Result[0]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("prediction: probability %v out of range", p)
	}
	return p, nil
}
