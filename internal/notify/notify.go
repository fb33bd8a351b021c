package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mockup-check/internal/report"
	"mockup-check/internal/retry"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// Notifier POSTs the Outcome of a run to a callback URL.
type Notifier struct {
	url           string
	client        *http.Client
	retryOn       *retry.On
	retryStrategy retry.Strategy
	logger        logr.Logger
}

type Option func(*Notifier)

func WithRetryOn(on *retry.On) Option {
	return func(n *Notifier) {
		n.retryOn = on
	}
}

func WithRetryStrategy(strategy retry.Strategy) Option {
	return func(n *Notifier) {
		n.retryStrategy = strategy
	}
}

func NewNotifier(url string, logger logr.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		url:           url,
		retryOn:       retry.DefaultOn(),
		retryStrategy: retry.NewExponentialBackOff(500*time.Millisecond, 10*time.Second, 5, nil),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &retry.Transport{
			RetryStrategy: n.retryStrategy,
			RetryOn:       n.retryOn,
			Logger:        logger,
		},
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, outcome report.Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return xerrors.Errorf("failed to encode outcome: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("failed to create callback request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send callback: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("callback %s returned %s", n.url, response.Status)
	}

	n.logger.V(1).Info("Sent callback", "url", n.url, "statusCode", response.StatusCode)
	return nil
}
