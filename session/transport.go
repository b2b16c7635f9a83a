package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/astraldesk/securehttp/foundation/logger"
)

// retryableStatus lists the responses worth retrying. The sole remote
// peer is a JSON API where replaying idempotent and POST requests alike
// is acceptable.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryTransport wraps the pooled transport with default headers and a
// bounded exponential-backoff retry policy.
type retryTransport struct {
	base           http.RoundTripper
	headers        map[string]string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            logger.LoggerInterface
	metrics        *Metrics
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.initialBackoff
	exp.MaxInterval = t.maxBackoff

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if req.Body != nil {
				if req.GetBody == nil {
					// Body already consumed and not replayable.
					return resp, err
				}
				body, berr := req.GetBody()
				if berr != nil {
					return resp, err
				}
				req.Body = body
			}
		}

		resp, err = t.base.RoundTrip(req)

		if !t.shouldRetry(req.Context(), resp, err) || attempt >= t.maxRetries {
			return resp, err
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		wait := exp.NextBackOff()
		t.metrics.RetriesTotal.Inc()
		t.log.Debugw("session: retrying request",
			"method", req.Method, "url", req.URL.Redacted(),
			"attempt", attempt+1, "wait", wait)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
}

func (t *retryTransport) shouldRetry(ctx context.Context, resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return resp != nil && retryableStatus[resp.StatusCode]
}
