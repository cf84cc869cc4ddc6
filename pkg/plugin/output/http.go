/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package output

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	maxResponseBody = 1 << 20
)

type (
	// HttpSink sends requests to a remote api, retrying throttled and failed calls.
	HttpSink struct {
		Name       string
		Client     *http.Client
		MaxRetries int
		// Backoff is used when the server sends no Retry-After
		Backoff *backoff.Backoff
	}
)

func NewBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do calls newRequest for every attempt. It returns the body of the first 2xx response, or an
// *APIError for a non retryable status or when retries are exhausted.
func (s *HttpSink) Do(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	b := s.Backoff
	if b == nil {
		b = NewBackoff()
	}
	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warnz("[output] retry", zap.String("output", s.Name), zap.Int("attempt", attempt), zap.Error(lastErr))
		}
		req, err := newRequest(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s build request", s.Name)
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = errors.Wrapf(err, "%s request", s.Name)
			if attempt == s.MaxRetries {
				break
			}
			if !wait(ctx, b.Duration()) {
				return nil, ctx.Err()
			}
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			lastErr = errors.Wrapf(err, "%s read response", s.Name)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			b.Reset()
			return body, nil
		}
		lastErr = &APIError{Output: s.Name, StatusCode: resp.StatusCode, Body: string(body)}
		if !retryable(resp.StatusCode) || attempt == s.MaxRetries {
			return nil, lastErr
		}
		d := b.Duration()
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := cast.ToIntE(ra); err == nil && secs >= 0 {
				d = time.Duration(secs) * time.Second
			}
		}
		if !wait(ctx, d) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
