package capture

import (
	"context"
	"fmt"
	"time"
)

const (
	EnginePlaywright = "playwright"
	EngineRod        = "rod"
)

type CaptureResult struct {
	// Screenshot is a PNG of the viewport.
	Screenshot []byte
}

type Capturer interface {
	Capture(ctx context.Context, url string) (*CaptureResult, error)
}

type Config struct {
	ViewportWidth  int
	ViewportHeight int

	// Timeout bounds navigation, the wait for network idle and the screenshot.
	Timeout time.Duration
	Delay   time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string

	Headers map[string]string
}

func DefaultConfig() Config {
	return Config{
		ViewportWidth:  2560,
		ViewportHeight: 1600,
		Timeout:        30 * time.Second,
		Headless:       true,
	}
}

// New returns the Capturer for engine.
func New(ctx context.Context, engine string, c Config) (Capturer, error) {
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return nil, fmt.Errorf("invalid viewport %dx%d", c.ViewportWidth, c.ViewportHeight)
	}

	switch engine {
	case EnginePlaywright, "":
		return NewPlaywrightCapturer(ctx, c)
	case EngineRod:
		return NewRodCapturer(ctx, c)
	default:
		return nil, fmt.Errorf("unknown capture engine: %s", engine)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
