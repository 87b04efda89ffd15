// Package crawler walks a pattern chain from a start page, fanning out at the outermost hop
// and handing the final hop's links to the download sink.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/download"
	"github.com/Sriram-PR/recursive-dl/pkg/fetch"
	applog "github.com/Sriram-PR/recursive-dl/pkg/log"
	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/pattern"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// Downloader persists one link into outputDir; satisfied by *download.Sink
type Downloader interface {
	Download(ctx context.Context, url, outputDir string) (models.DownloadStatus, error)
}

// FanOutPolicy decides at which depths links are processed concurrently
type FanOutPolicy struct {
	// OutermostOnly restricts concurrent recursion and concurrent downloads to depth 0.
	// When false every hop with several links fans out, each fan-out bounded by Workers.
	OutermostOnly bool
}

// concurrentAt reports whether a hop at depth may fan out
func (p FanOutPolicy) concurrentAt(depth int) bool {
	return !p.OutermostOnly || depth == 0
}

// Options configures a Dispatcher
type Options struct {
	OutputDir   string
	Workers     int
	Mode        models.FetchMode
	Delay       time.Duration // Base pause before every non-root fetch
	DelayJitter time.Duration
	HopDelay    time.Duration // After each sequential recursive hop
	ItemDelay   time.Duration // After each sequential download
	Policy      FanOutPolicy
}

// OptionsFromConfig maps validated application config to dispatcher options
func OptionsFromConfig(cfg *config.AppConfig, mode models.FetchMode) Options {
	return Options{
		OutputDir:   cfg.OutputDir,
		Workers:     cfg.Workers,
		Mode:        mode,
		Delay:       cfg.Delay,
		DelayJitter: cfg.DelayJitter,
		HopDelay:    cfg.HopDelay,
		ItemDelay:   cfg.ItemDelay,
		Policy:      FanOutPolicy{OutermostOnly: true},
	}
}

// Dispatcher runs crawl tasks: fetch, resolve, then recurse or download
type Dispatcher struct {
	fetcher fetch.PageFetcher
	sink    Downloader
	pacer   *fetch.Pacer
	console *applog.Console
	opts    Options
	log     *logrus.Entry
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(fetcher fetch.PageFetcher, sink Downloader, pacer *fetch.Pacer, console *applog.Console, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Dispatcher{
		fetcher: fetcher,
		sink:    sink,
		pacer:   pacer,
		console: console,
		opts:    opts,
		log:     log.WithField("component", "dispatcher"),
	}
}

// Run crawls startURL with chain and returns the aggregate outcome.
// Once ctx is cancelled no new page fetch or download is started; in-flight ones finish.
func (d *Dispatcher) Run(ctx context.Context, startURL string, chain models.Chain) models.Outcome {
	task := models.CrawlTask{URL: startURL, Chain: chain, Depth: 0}
	if !task.Valid() {
		d.log.Warn("Refusing to run an empty crawl task")
		return models.Outcome{}
	}
	return d.safeProcess(ctx, task, nil)
}

// safeProcess runs process and converts a panic into a failed task
func (d *Dispatcher) safeProcess(ctx context.Context, task models.CrawlTask, res fetch.Resource) (out models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"url":         task.URL,
				"depth":       task.Depth,
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in crawl task")
			out = models.Outcome{TaskFailures: 1}
		}
	}()
	return d.process(ctx, task, res)
}

// process handles one task. res is the resource held for this subtree, nil if none.
func (d *Dispatcher) process(ctx context.Context, task models.CrawlTask, res fetch.Resource) models.Outcome {
	var out models.Outcome
	if !task.Valid() || ctx.Err() != nil {
		return out
	}

	head := task.Chain.Head()
	taskLog := d.log.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth, "pattern": head.String()})

	if d.console.Verbose() {
		d.console.Indentf(task.Depth, "Searching %s for %s", task.URL, head)
	}

	if task.Depth > 0 {
		if err := d.pacer.Wait(ctx, d.opts.Delay, d.opts.DelayJitter); err != nil {
			return out
		}
	}

	taskLog.WithField("stage", models.StageFetching).Debug("Fetching page")
	doc, err := d.fetcher.Fetch(context.WithoutCancel(ctx), task.URL, res)
	if err != nil {
		taskLog.WithFields(logrus.Fields{
			"stage":      models.StageFailed,
			"error_type": utils.CategorizeError(err),
		}).Warnf("Fetch failed: %v", err)
		if d.console.Verbose() {
			d.console.Indentf(task.Depth, "Failed to fetch page")
		}
		return countFetchError(err)
	}
	out.PagesFetched = 1

	taskLog.WithField("stage", models.StageResolving).Debug("Resolving links")
	result := pattern.Resolve(doc, doc.Url, head)
	if result.Empty() {
		taskLog.WithField("stage", models.StageEmpty).Debug("No matching links")
		return out
	}
	d.reportFound(task, result)

	links := result.Links
	if !task.FinalHop() {
		taskLog.WithFields(logrus.Fields{"stage": models.StageRecursing, "links": len(links)}).Debug("Recursing")
		if len(links) > 1 && d.opts.Policy.concurrentAt(task.Depth) {
			return out.Add(d.fanOutTasks(ctx, task, links))
		}
		return out.Add(d.walkSequential(ctx, task, links, res))
	}

	taskLog.WithFields(logrus.Fields{"stage": models.StageDownloading, "links": len(links)}).Debug("Downloading")
	if len(links) > 1 && d.opts.Workers > 1 && d.opts.Policy.concurrentAt(task.Depth) {
		return out.Add(d.fanOutDownloads(ctx, task, links))
	}
	return out.Add(d.walkSequential(ctx, task, links, res))
}

// reportFound prints the per-hop match count, naming the fallback filter when one was used
func (d *Dispatcher) reportFound(task models.CrawlTask, result pattern.Result) {
	head := task.Chain.Head()
	switch {
	case d.console.Verbose():
		if head.HasFallback() {
			for _, skipped := range head.Filters[:result.FilterIndex] {
				d.console.Printf("    No matches for %s, trying fallback...", skipped)
			}
			d.console.Printf("    Using pattern %s (found %d links)", result.Filter, len(result.Links))
		}
		d.console.Indentf(task.Depth, "Found %d links for pattern %s", len(result.Links), head)
	case result.FellBack():
		d.console.Indentf(task.Depth, "Found %d %s links (fallback from %s)", len(result.Links), result.Filter, head.Primary())
	default:
		d.console.Indentf(task.Depth, "Found %d %s links", len(result.Links), head)
	}
}

// walkSequential processes links one after another, each fully (including recursion) before the next
func (d *Dispatcher) walkSequential(ctx context.Context, task models.CrawlTask, links []string, res fetch.Resource) models.Outcome {
	var out models.Outcome
	final := task.FinalHop()

	for i, link := range links {
		if ctx.Err() != nil {
			d.log.WithField("remaining", len(links)-i).Debug("Cancelled, not starting remaining links")
			break
		}

		name := displayName(link)
		if d.console.Verbose() {
			d.console.Indentf(task.Depth, "[%d/%d] Processing: %s", i+1, len(links), name)
		} else if task.Depth == 0 {
			d.console.Printf("[%d/%d] %s", i+1, len(links), name)
		}

		if final {
			out = out.Add(d.safeDownload(ctx, link))
			_ = d.pacer.Wait(ctx, d.opts.ItemDelay, 0)
		} else {
			out = out.Add(d.safeProcess(ctx, task.Child(link), res))
			_ = d.pacer.Wait(ctx, d.opts.HopDelay, 0)
		}
	}
	return out
}

// fanOutTasks runs one child task per link with at most Workers in flight.
// Each worker holds one pooled resource, when the fetcher has a pool, for its whole subtree.
func (d *Dispatcher) fanOutTasks(ctx context.Context, task models.CrawlTask, links []string) models.Outcome {
	limit := min(d.opts.Workers, len(links))
	if !d.console.Verbose() {
		workerType := "workers"
		if d.opts.Mode.Interactive() {
			workerType = "concurrent browsers"
		}
		d.console.Indentf(task.Depth, "Processing %d links with %d %s...", len(links), limit, workerType)
	}

	results := make([]models.Outcome, len(links))
	d.fanOut(ctx, len(links), limit, func(i int) {
		results[i] = d.runWorker(ctx, task, links[i], i, len(links))
	})
	return sum(results)
}

// runWorker processes one fanned-out link, checking a resource out of the pool for the duration
func (d *Dispatcher) runWorker(ctx context.Context, task models.CrawlTask, link string, index, total int) models.Outcome {
	workerLog := d.log.WithFields(logrus.Fields{"url": link, "link_index": index + 1})

	var res fetch.Resource
	if pool := d.fetcher.Pool(); pool != nil {
		acquired, err := pool.Acquire(ctx)
		if err != nil {
			workerLog.WithField("error_type", utils.CategorizeError(err)).Warnf("No fetch resource: %v", err)
			if d.console.Verbose() {
				d.console.Printf("Worker error: %v", err)
			}
			return models.Outcome{ResourceFailures: 1}
		}
		res = acquired
		workerLog = workerLog.WithField("resource_id", res.ID())
		defer func() {
			if err := res.Reset(context.WithoutCancel(ctx)); err != nil {
				workerLog.WithError(err).Warn("Resource reset failed")
			}
			pool.Release(res)
		}()
	}

	if d.console.Verbose() {
		d.console.Printf("  [%d/%d] Worker processing: %s", index+1, total, displayName(link))
	}
	return d.safeProcess(ctx, task.Child(link), res)
}

// fanOutDownloads sends every link to the sink with at most Workers transfers in flight
func (d *Dispatcher) fanOutDownloads(ctx context.Context, task models.CrawlTask, links []string) models.Outcome {
	limit := min(d.opts.Workers, len(links))
	if !d.console.Verbose() {
		d.console.Indentf(task.Depth, "Downloading %d files with %d download workers...", len(links), limit)
	}

	results := make([]models.Outcome, len(links))
	d.fanOut(ctx, len(links), limit, func(i int) {
		results[i] = d.safeDownload(ctx, links[i])
	})
	return sum(results)
}

// fanOut calls work(i) for i in [0, n) on at most limit goroutines and waits for all of them.
// Scheduling stops once ctx is cancelled; work that already started runs to completion.
func (d *Dispatcher) fanOut(ctx context.Context, n, limit int, work func(i int)) {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			d.log.WithField("remaining", n-i).Debug("Cancelled, not scheduling remaining links")
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			work(i)
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors; failures are folded into outcomes
}

// safeDownload calls the sink and converts its result, or a panic, into an outcome
func (d *Dispatcher) safeDownload(ctx context.Context, link string) (out models.Outcome) {
	if ctx.Err() != nil {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"url":         link,
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in download")
			out = models.Outcome{Failed: 1}
		}
	}()

	status, err := d.sink.Download(context.WithoutCancel(ctx), link, d.opts.OutputDir)
	if err != nil || !status.Succeeded() {
		if err == nil {
			err = fmt.Errorf("%w: sink reported %s", utils.ErrDownloadFailure, status)
		}
		d.log.WithFields(logrus.Fields{"url": link, "error_type": utils.CategorizeError(err)}).Debugf("Download failed: %v", err)
		return models.Outcome{Failed: 1}
	}
	out.Downloaded = 1
	if status == models.DownloadStatusExists {
		out.Existing = 1
	}
	return out
}

// countFetchError classifies a fetch error into the matching outcome counter
func countFetchError(err error) models.Outcome {
	if errors.Is(err, utils.ErrResourceUnavailable) || errors.Is(err, utils.ErrPoolClosed) {
		return models.Outcome{ResourceFailures: 1}
	}
	return models.Outcome{FetchFailures: 1}
}

func sum(outcomes []models.Outcome) models.Outcome {
	var total models.Outcome
	for _, o := range outcomes {
		total = total.Add(o)
	}
	return total
}

// displayName is the decoded last path segment of link, or link itself
func displayName(link string) string {
	if name := download.FilenameFromURL(link); name != "" {
		return name
	}
	return link
}
