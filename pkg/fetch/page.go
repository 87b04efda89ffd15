package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

const maxPageBytes = 32 << 20

// PageFetcher retrieves and parses a page.
// res is a resource already held by the caller, or nil to let the fetcher obtain one if it needs one.
// The returned document's Url is the final URL after redirects and serves as the link resolution base.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, res Resource) (*goquery.Document, error)
	// Pool returns the resource pool backing this fetcher, nil for stateless fetchers
	Pool() *ResourcePool
}

// NewPageFetcher builds the fetcher for mode.
// Interactive modes without a driver in this build report ErrSetupFailure.
func NewPageFetcher(mode models.FetchMode, cfg *config.AppConfig, requester Requester, pool *ResourcePool, log *logrus.Entry) (PageFetcher, error) {
	switch mode {
	case models.FetchModeDirect:
		return NewDirectFetcher(requester, cfg, NewPacer(log), log), nil
	case models.FetchModeChrome:
		if pool == nil {
			return nil, fmt.Errorf("%w: chrome mode requires a browser pool", utils.ErrSetupFailure)
		}
		return NewBrowserFetcher(pool, log), nil
	case models.FetchModeFirefox:
		return nil, fmt.Errorf("%w: firefox is not supported by this build, use --mode chrome", utils.ErrSetupFailure)
	default:
		return nil, fmt.Errorf("%w: unknown fetch mode %q", utils.ErrSetupFailure, mode)
	}
}

// DirectFetcher fetches pages with plain HTTP GETs carrying a desktop-browser header set
type DirectFetcher struct {
	requester Requester
	headers   http.Header
	timeout   time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	pacer     *Pacer
	log       *logrus.Entry
}

// NewDirectFetcher creates a DirectFetcher
func NewDirectFetcher(requester Requester, cfg *config.AppConfig, pacer *Pacer, log *logrus.Entry) *DirectFetcher {
	return &DirectFetcher{
		requester: requester,
		headers:   PageHeaders(cfg.UserAgent),
		timeout:   cfg.HTTPClientSettings.Timeout,
		jitterMin: cfg.PageJitterMin,
		jitterMax: cfg.PageJitterMax,
		pacer:     pacer,
		log:       log,
	}
}

// Pool returns nil: direct fetches own no resources
func (f *DirectFetcher) Pool() *ResourcePool { return nil }

// Fetch pauses a random page jitter, GETs url with retries and parses the body
func (f *DirectFetcher) Fetch(ctx context.Context, rawURL string, _ Resource) (*goquery.Document, error) {
	if err := f.pacer.Between(ctx, f.jitterMin, f.jitterMax); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFetchFailure, err)
	}

	req, err := NewRequest(http.MethodGet, rawURL, f.headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", utils.ErrFetchFailure, utils.ErrRequestCreation, err)
	}

	reqCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, err := f.requester.FetchWithRetry(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFetchFailure, err)
	}

	body, err := DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", utils.ErrFetchFailure, utils.ErrResponseBodyRead, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: HTML: %w", utils.ErrFetchFailure, utils.ErrParsing, err)
	}
	doc.Url = resp.Request.URL
	return doc, nil
}

// BrowserFetcher renders pages in pooled Chrome instances
type BrowserFetcher struct {
	pool *ResourcePool
	log  *logrus.Entry
}

// NewBrowserFetcher creates a BrowserFetcher over pool
func NewBrowserFetcher(pool *ResourcePool, log *logrus.Entry) *BrowserFetcher {
	return &BrowserFetcher{pool: pool, log: log}
}

// Pool returns the browser pool
func (f *BrowserFetcher) Pool() *ResourcePool { return f.pool }

// Fetch renders url in res, or in a browser borrowed from the pool for this one call when res is nil
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string, res Resource) (*goquery.Document, error) {
	if res == nil {
		borrowed, err := f.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if resetErr := borrowed.Reset(context.WithoutCancel(ctx)); resetErr != nil {
				f.log.WithError(resetErr).Warn("Browser reset failed")
			}
			f.pool.Release(borrowed)
		}()
		res = borrowed
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", utils.ErrFetchFailure, utils.ErrParsing, err)
	}

	html, err := res.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: render: %w", utils.ErrFetchFailure, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: HTML: %w", utils.ErrFetchFailure, utils.ErrParsing, err)
	}
	// Links are resolved against the requested URL; client-side redirects are not tracked
	doc.Url = base
	return doc, nil
}
