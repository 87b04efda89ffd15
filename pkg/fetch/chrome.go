package fetch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	applog "github.com/Sriram-PR/recursive-dl/pkg/log"
)

const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Browser is a single headless Chrome process with one tab, usable as a pooled Resource
type Browser struct {
	id          string
	cfg         config.BrowserConfig
	allocCancel context.CancelFunc
	ctx         context.Context // Tab context; every chromedp.Run derives from it
	cancel      context.CancelFunc
	healthy     atomic.Bool
	log         *logrus.Entry
}

// NewChromeFactory returns a ResourceFactory that launches a fresh Chrome per resource
func NewChromeFactory(cfg config.BrowserConfig, userAgent string, log *logrus.Entry) ResourceFactory {
	return func(ctx context.Context) (Resource, error) {
		return LaunchBrowser(ctx, cfg, userAgent, log)
	}
}

// LaunchBrowser starts Chrome and waits until the first tab is usable or StartupTimeout elapses
func LaunchBrowser(ctx context.Context, cfg config.BrowserConfig, userAgent string, log *logrus.Entry) (*Browser, error) {
	id := uuid.NewString()
	bLog := log.WithField("resource_id", id)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.GetEffectiveHeadless()),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// The browser outlives the acquiring request, so its allocator is rooted at Background
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	adapter := applog.NewChromedpLogrusAdapter(bLog)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(adapter.Logf),
		chromedp.WithErrorf(adapter.Errorf),
		chromedp.WithDebugf(adapter.Debugf),
	)

	b := &Browser{
		id:          id,
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		log:         bLog,
	}

	// First Run launches the process; it must use the tab context itself, not a timeout child
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverJS).Do(ctx)
			return err
		}))
	}()

	startup := cfg.StartupTimeout
	if startup <= 0 {
		startup = 45 * time.Second
	}
	timer := time.NewTimer(startup)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
	case <-timer.C:
		b.Close()
		return nil, fmt.Errorf("launch chrome: no response within %v", startup)
	case <-ctx.Done():
		b.Close()
		return nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	}

	b.healthy.Store(true)
	bLog.Debug("Browser launched")
	return b, nil
}

// ID returns the resource identifier used in logs
func (b *Browser) ID() string { return b.id }

// Healthy reports whether the browser can be reused
func (b *Browser) Healthy() bool { return b.healthy.Load() && b.ctx.Err() == nil }

// Render navigates to url, waits for <body>, pauses SettleDelay and returns the outer HTML
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	navCtx, cancel := b.runContext(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	readyCtx, cancelReady := b.runContext(ctx, b.cfg.PageReadyTimeout)
	defer cancelReady()
	if err := chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("wait for body: %w", err)
	}

	var html string
	captureCtx, cancelCapture := b.runContext(ctx, b.cfg.SettleDelay+b.cfg.PageReadyTimeout)
	defer cancelCapture()
	err := chromedp.Run(captureCtx,
		chromedp.Sleep(b.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

// Reset leaves the current page so the next holder starts clean; failure marks the browser unhealthy
func (b *Browser) Reset(ctx context.Context) error {
	resetCtx, cancel := b.runContext(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(resetCtx, chromedp.Navigate("about:blank")); err != nil {
		b.healthy.Store(false)
		return fmt.Errorf("reset browser %s: %w", b.id, err)
	}
	return nil
}

// Close terminates the tab and the Chrome process
func (b *Browser) Close() error {
	b.healthy.Store(false)
	b.cancel()
	b.allocCancel()
	return nil
}

// runContext derives a bounded context from the tab that is also cancelled when caller is
func (b *Browser) runContext(caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
