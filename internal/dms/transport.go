package dms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// sendWithRetry issues a vendor request up to len(retryDelays) times.
// Requests are rebuilt per attempt so auth headers stay fresh. A 429
// response waits out the Retry-After header when the vendor sends one.
func sendWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < len(retryDelays); attempt++ {
		if attempt > 0 {
			delay := retryDelays[attempt-1]
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			logging.DMSWarn("request attempt %d failed: %v", attempt+1, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp)
			drainBody(resp)
			lastErr = &types.RateLimitError{Provider: "dms", RetryAfter: retryAfter}
			logging.DMSWarn("vendor throttled, retry after %s", retryAfter)
			if retryAfter > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryAfter):
				}
			}
			continue
		case resp.StatusCode >= 500:
			drainBody(resp)
			lastErr = fmt.Errorf("vendor returned %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("dms request failed after %d attempts: %w", len(retryDelays), lastErr)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 2 * time.Second
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
