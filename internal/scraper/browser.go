package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Renderer returns the fully rendered HTML of a page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// RodRenderer renders pages in a headless Chrome with stealth patches. A
// browser is launched per call and torn down afterwards.
type RodRenderer struct {
	Timeout time.Duration
}

func (r *RodRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	wsURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launching browser: %w", err)
	}
	defer l.Kill()

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return "", fmt.Errorf("connecting to browser: %w", err)
	}
	defer b.Close()

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("opening page: %w", err)
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigating to %s: %w", pageURL, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return "", fmt.Errorf("waiting for %s: %w", pageURL, err)
	}

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("reading DOM: %w", err)
	}
	return res.Value.Str(), nil
}
