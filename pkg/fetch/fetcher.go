package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// Requester performs a single HTTP request with retries; satisfied by *Fetcher
type Requester interface {
	FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RetryPolicy controls how many times and how long FetchWithRetry backs off
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryPolicyFromConfig extracts the retry settings from the application config
func RetryPolicyFromConfig(cfg *config.AppConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
	}
}

// backoff returns the jittered delay before retry number attempt (1-based)
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	var jitter time.Duration
	if delay/5 > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10) // +/- 10%
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

// Fetcher handles making HTTP requests with retry logic, using an underlying http.Client
type Fetcher struct {
	client *http.Client
	policy RetryPolicy
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy RetryPolicy, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		policy: policy,
		log:    log,
	}
}

// Client exposes the underlying http.Client for callers that must not retry (HEAD probes)
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// FetchWithRetry performs req bound to ctx.
// Network errors, 5xx and 429 are retried with exponential backoff and jitter.
// On success the caller owns the response body. On any error the body is already closed.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.policy.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, err)
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", err, lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		if attempt > 0 {
			delay := f.policy.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, statusCode)
			drain(resp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, statusCode)
			drain(resp)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			drain(resp)
			return nil, fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, statusCode)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			drain(resp)
			return nil, fmt.Errorf("%w: status %d", utils.ErrOtherHTTPError, statusCode)
		}
	}

	reqLog.Errorf("All %d fetch retries failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// drain discards and closes a response body so the connection can be reused
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
