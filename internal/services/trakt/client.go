package trakt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/config"
	"github.com/amaumene/scrobblarr/internal/metrics"
)

const (
	defaultBaseURL = "https://api.trakt.tv"
	apiVersion     = "2"
)

// APIError is returned when Trakt answers with a non-2xx status
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 answer
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client handles communication with Trakt API
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenStore   TokenStore
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[struct{}]
	logger       *logrus.Logger
}

// NewClient creates a new Trakt API client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	tokenStore, err := NewFileTokenStore(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	baseURL := cfg.TraktAPIURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limit := rate.Inf
	burst := 1
	if cfg.TraktRateLimit > 0 {
		limit = rate.Limit(cfg.TraktRateLimit)
		if int(cfg.TraktRateLimit) > burst {
			burst = int(cfg.TraktRateLimit)
		}
	}

	return &Client{
		clientID:     cfg.TraktClientID,
		clientSecret: cfg.TraktClientSecret,
		baseURL:      baseURL,
		tokenStore:   tokenStore,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(limit, burst),
		breaker:      newBreaker(logger),
		logger:       logger,
	}, nil
}

// newBreaker opens after 5 consecutive server-side failures and probes again after 30 seconds.
// Client errors and cancellations do not count as failures.
func newBreaker(logger *logrus.Logger) *gobreaker.CircuitBreaker[struct{}] {
	metrics.TraktBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "trakt-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || cancel.IsCanceled(err) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateClosed:
				metrics.TraktBreakerState.Set(0)
			case gobreaker.StateHalfOpen:
				metrics.TraktBreakerState.Set(1)
			case gobreaker.StateOpen:
				metrics.TraktBreakerState.Set(2)
			}
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Trakt circuit breaker changed state")
		},
	})
}

// doRequest performs an authenticated HTTP request to Trakt API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	// Check and refresh token if needed
	if err := c.ensureValidToken(ctx); err != nil {
		return fmt.Errorf("failed to ensure valid token: %w", err)
	}
	return c.do(ctx, method, path, body, result, true)
}

// do throttles the request and runs it through the circuit breaker. Failures are never retried.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}, authenticated bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			metrics.TraktRequests.WithLabelValues(method, "canceled").Inc()
			return cancel.Cause(ctx)
		}
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.send(ctx, method, path, payload, result, authenticated)
	})

	switch {
	case err == nil:
		metrics.TraktRequests.WithLabelValues(method, "success").Inc()
		return nil
	case ctx.Err() != nil:
		metrics.TraktRequests.WithLabelValues(method, "canceled").Inc()
		return cancel.Cause(ctx)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.TraktRequests.WithLabelValues(method, "rejected").Inc()
		return fmt.Errorf("trakt unavailable: %w", err)
	default:
		metrics.TraktRequests.WithLabelValues(method, "error").Inc()
		return err
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, result interface{}, authenticated bool) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	fullURL := c.baseURL + path
	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    fullURL,
	}).Debug("Making Trakt API request")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.clientID)

	// Add authorization if we have a token
	if authenticated {
		token, err := c.tokenStore.GetToken()
		if err == nil && token != nil {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}
	}

	// Perform request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	// Parse response
	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// ensureValidToken checks if the current token is valid and refreshes if needed
func (c *Client) ensureValidToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		c.logger.Debug("No valid token found, authentication required")
		return nil
	}

	// Check if token expires within 24 hours
	if time.Until(token.ExpiresAt) < 24*time.Hour {
		c.logger.Info("Token expires soon, refreshing...")
		return c.RefreshToken(ctx)
	}

	return nil
}
