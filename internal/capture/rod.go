package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// requestIdle is how long no request may be in flight before the network
// counts as idle.
const requestIdle = 500 * time.Millisecond

type rodCapturer struct {
	config Config
}

func NewRodCapturer(ctx context.Context, c Config) (Capturer, error) {
	return &rodCapturer{
		config: c,
	}, nil
}

func (c *rodCapturer) Capture(ctx context.Context, url string) (*CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	browser := rod.New().Context(ctx)
	if c.config.ChromeDevtoolsProtocolURL == "" {
		l := launcher.New().Context(ctx).Headless(c.config.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		defer l.Cleanup()
		defer l.Kill()
		browser = browser.ControlURL(u)
	} else {
		u, err := launcher.ResolveURL(c.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve CDP URL %s: %w", c.config.ChromeDevtoolsProtocolURL, err)
		}
		// Browser.Close would shut the remote browser down, so only the
		// websocket is closed.
		ws := &cdp.WebSocket{}
		if err := ws.Connect(ctx, u, nil); err != nil {
			return nil, fmt.Errorf("failed to connect to browser at %s: %w", u, err)
		}
		defer ws.Close()
		browser = browser.Client(cdp.New().Start(ws))
	}

	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	if c.config.ChromeDevtoolsProtocolURL == "" {
		defer browser.Close()
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.config.ViewportWidth,
		Height:            c.config.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport size: %w", err)
	}

	if len(c.config.Headers) > 0 {
		pairs := make([]string, 0, len(c.config.Headers)*2)
		for k, v := range c.config.Headers {
			pairs = append(pairs, k, v)
		}
		cleanup, err := page.SetExtraHeaders(pairs)
		if err != nil {
			return nil, fmt.Errorf("failed to set HTTP headers: %w", err)
		}
		defer cleanup()
	}

	wait := page.WaitRequestIdle(requestIdle, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to wait for %s to load: %w", url, err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to wait for network idle on %s: %w", url, err)
	}

	if err := sleep(ctx, c.config.Delay); err != nil {
		return nil, err
	}

	screenshotBytes, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}

	return &CaptureResult{
		Screenshot: screenshotBytes,
	}, nil
}
