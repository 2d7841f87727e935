package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "graph-ingest/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxJSONBytes = 64 << 20

// FetcherConfig controls retries, timeouts and throttling of upstream calls.
type FetcherConfig struct {
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Fetcher performs GET requests against the upstream APIs. Every request is
// rate limited, retried with exponential backoff on transient failures and
// guarded by a per-host circuit breaker.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *TokenBucket
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "graph-ingest/1.0"
	}
	burst := cfg.RequestsPerSecond
	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  NewTokenBucket(burst, cfg.RequestsPerSecond),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Pause throttles all requests for d.
func (f *Fetcher) Pause(d time.Duration) {
	f.limiter.Pause(d)
}

// GetJSON fetches rawURL and decodes the body into out. A 404 is reported as
// ErrNotFound; any other failure as ErrSourceUnavailable.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := f.get(ctx, rawURL, maxJSONBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response from %s: %w", apperrors.ErrSourceUnavailable, redact(rawURL), err)
	}
	return nil
}

// GetBytes fetches rawURL, refusing bodies larger than limit bytes.
func (f *Fetcher) GetBytes(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	return f.get(ctx, rawURL, limit)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %w", apperrors.ErrInvalidInput, rawURL, err)
	}
	cb := f.breaker(u.Host)

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := f.backoffSleep(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := cb.Execute(func() (any, error) {
			return f.once(ctx, rawURL, limit)
		})
		if err == nil {
			return res.([]byte), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open for %s: %w", apperrors.ErrSourceUnavailable, u.Host, err)
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = re.err
		f.logger.Warn("Upstream request failed, retrying",
			zap.String("url", redact(rawURL)),
			zap.Int("attempt", attempt+1),
			zap.Error(re.err))
	}
	return nil, fmt.Errorf("%w: %s failed after %d attempts: %w",
		apperrors.ErrSourceUnavailable, redact(rawURL), f.cfg.MaxRetries, lastErr)
}

func (f *Fetcher) once(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", apperrors.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, redact(rawURL))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &retryableError{err: fmt.Errorf("upstream status %s", resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %s: %s",
			apperrors.ErrSourceUnavailable, redact(rawURL), resp.Status, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", apperrors.ErrSourceUnavailable, redact(rawURL), limit)
	}
	return body, nil
}

func (f *Fetcher) backoffSleep(ctx context.Context, attempt int) error {
	base := f.cfg.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	timer := time.NewTimer(base * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.logger.Warn("Circuit breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Missing records are answers, not outages
			return err == nil || errors.Is(err, apperrors.ErrNotFound)
		},
	})
	f.breakers[host] = cb
	return cb
}

// redact drops the query string's api key before a URL is logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
