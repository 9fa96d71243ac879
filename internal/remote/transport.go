// Package remote talks to the collection service over credentialed HTTP.
//
// Every call is a single attempt. Failures come back as *SyncError; nothing is
// retried and nothing is queued. A circuit breaker may short-circuit calls while
// the service keeps failing, which is still a single (failed) attempt.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// RequestIDHeader is the header carrying the per-call request id.
const RequestIDHeader = "X-Request-ID"

// Default transport settings.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenFor   = 30 * time.Second
	maxResponseBytes        = 4 << 20
)

// Transport errors.
var (
	ErrInvalidBaseURL   = errors.New("base URL must be an absolute http(s) URL")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrUnauthorized     = errors.New("not authenticated")
	ErrRejected         = errors.New("request rejected by server")
)

// BreakerSettings configures the circuit breaker in front of the service.
type BreakerSettings struct {
	Enabled bool
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold uint32
	// OpenFor is how long the breaker stays open before a trial call.
	OpenFor time.Duration
}

// Options configures a Transport.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Breaker    BreakerSettings
	Logger     *zap.Logger
}

// Transport is the shared HTTP plumbing: base URL, cookie session and breaker.
// One Transport serves the session client and every collection client so they
// share the same cookie jar.
type Transport struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

// statusError is a non-2xx response.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("status %d: %s", e.code, e.message)
	}
	return fmt.Sprintf("status %d", e.code)
}

func (e *statusError) Unwrap() error {
	switch {
	case e.code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.code >= 400 && e.code < 500:
		return ErrRejected
	default:
		return ErrUnexpectedStatus
	}
}

// NewTransport creates a Transport. When opts.HTTPClient is nil a client with a
// fresh cookie jar and DefaultTimeout is used.
func NewTransport(opts Options) (*Transport, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, ErrInvalidBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := opts.HTTPClient
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client = &http.Client{Jar: jar, Timeout: DefaultTimeout}
	}

	t := &Transport{
		base:   base,
		http:   client,
		logger: logger,
	}

	if opts.Breaker.Enabled {
		t.breaker = newBreaker(opts.Breaker, logger)
	}

	return t, nil
}

func newBreaker(s BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker[[]byte] {
	threshold := s.Threshold
	if threshold == 0 {
		threshold = DefaultBreakerThreshold
	}
	openFor := s.OpenFor
	if openFor <= 0 {
		openFor = DefaultBreakerOpenFor
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "collection-service",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors mean the service answered; only transport and 5xx trip.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// BaseURL returns the service base URL.
func (t *Transport) BaseURL() string {
	return t.base.String()
}

// do performs one request and returns the envelope's data payload.
func (t *Transport) do(ctx context.Context, method string, body any, segments ...string) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	endpoint := t.base.JoinPath(segments...)

	call := func() ([]byte, error) {
		return t.roundTrip(ctx, method, endpoint.String(), payload)
	}

	var (
		raw []byte
		err error
	)
	if t.breaker != nil {
		raw, err = t.breaker.Execute(call)
	} else {
		raw, err = call()
	}
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var envelope model.APIResponse[json.RawMessage]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, envelope.Error)
	}

	return envelope.Data, nil
}

func (t *Transport) roundTrip(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	t.logger.Debug("collection service call",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, message: errorMessage(raw)}
	}

	return raw, nil
}

// errorMessage pulls a human-readable message out of an error body, if any.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// statusCode extracts the HTTP status from err, or 0.
func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}
