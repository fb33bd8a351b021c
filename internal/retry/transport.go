package retry

import (
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// Transport retries requests through Base according to RetryOn and
// RetryStrategy. Requests with a body are only retried when GetBody is set,
// which http.NewRequest does for the common in-memory readers.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
	Logger        logr.Logger
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	ctx := request.Context()

	for retryCount := uint(0); ; retryCount++ {
		sleep, exceeded := t.retryStrategy().Sleep(retryCount)
		canRetry := !exceeded && t.RetryOn != nil && (request.Body == nil || request.GetBody != nil)

		response, err := t.base().RoundTrip(request)
		switch {
		case err != nil:
			if !canRetry || !t.RetryOn.CheckError(err) {
				return nil, err
			}
			t.Logger.V(1).Info("retrying request", "url", request.URL.String(), "retryCount", retryCount+1, "error", err.Error())
		case canRetry && t.RetryOn.CheckResponse(response):
			_, _ = io.Copy(io.Discard, response.Body)
			_ = response.Body.Close()
			t.Logger.V(1).Info("retrying request", "url", request.URL.String(), "retryCount", retryCount+1, "statusCode", response.StatusCode)
		default:
			return response, nil
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if request.GetBody != nil {
			body, err := request.GetBody()
			if err != nil {
				return nil, xerrors.Errorf("failed to rewind request body: %w", err)
			}
			request = request.Clone(ctx)
			request.Body = body
		}
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
