package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/recursive-dl/pkg/config"
	"github.com/Sriram-PR/recursive-dl/pkg/crawler"
	"github.com/Sriram-PR/recursive-dl/pkg/download"
	"github.com/Sriram-PR/recursive-dl/pkg/fetch"
	applog "github.com/Sriram-PR/recursive-dl/pkg/log"
	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/pattern"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

const examples = `  # Find .html pages, then download the .mp3 files linked from each
  recursive-dl https://example.com --search '*.html' '*.mp3'

  # Try .flac first, fall back to .mp3 when a page has no .flac links
  recursive-dl https://example.com -s '*.html' -s '*.flac>*.ogg>*.mp3'

  # Render pages in headless Chrome for script-heavy sites
  recursive-dl https://example.com -s '*.html' -s '*.mp3' --mode chrome -w 2`

// cliFlags holds raw flag values; only flags the user set override lower layers
type cliFlags struct {
	search     []string
	mode       string
	output     string
	delay      float64
	workers    int
	verbose    bool
	progress   bool
	configPath string
	envFile    string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		cancel() // Stop issuing new work; in-flight fetches and downloads finish

		// Allow force exit on second signal or timeout
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "Received second signal. Forcing exit.")
			os.Exit(1)
		case <-time.After(90 * time.Second):
			fmt.Fprintln(os.Stderr, "Graceful shutdown period exceeded. Forcing exit.")
			os.Exit(1)
		}
	}()

	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI with args and returns the process exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	exitCode := 0
	cmd := newRootCmd(ctx, stdout, stderr, &exitCode)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, exitCode *int) *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:           "recursive-dl URL [PATTERN...]",
		Short:         "Recursively download files following link patterns",
		Long:          "Fetch URL, follow links matching each search pattern in turn, and download the links matched by the last pattern.\nA pattern may list fallbacks separated by '>', tried in order until one matches.\nFirefox mode is not available in this build and exits with an error; use --mode chrome for script-rendered pages.",
		Example:       examples,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := buildConfig(cmd, &flags, args)
			if err != nil {
				return err
			}
			*exitCode = doCrawl(ctx, cfg, warnings, stdout, stderr)
			return nil
		},
	}

	bindFlags(cmd, &flags)
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *cliFlags) {
	f := cmd.Flags()
	f.StringArrayVarP(&flags.search, "search", "s", nil, "Search pattern per hop, in order (repeatable); fallbacks with '>', e.g. '*.flac>*.mp3'")
	f.StringVar(&flags.mode, "mode", "requests", "Fetching mode: requests or chrome (firefox is accepted but rejected at startup)")
	f.StringVarP(&flags.output, "output", "o", "downloads", "Output directory")
	f.Float64Var(&flags.delay, "delay", 1.0, "Delay between requests in seconds")
	f.IntVarP(&flags.workers, "workers", "w", 4, "Max concurrent workers/browsers")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Show detailed output")
	f.BoolVar(&flags.progress, "progress", false, "Show a byte progress bar per download")
	f.StringVar(&flags.configPath, "config", "", "Optional YAML config file")
	f.StringVar(&flags.envFile, "env-file", ".env", "Environment file supplying SEARCH, MODE, OUTPUT, DELAY, VERBOSE, WORKERS")
}

// buildConfig layers defaults, env file, YAML file and explicitly set flags, then validates
func buildConfig(cmd *cobra.Command, flags *cliFlags, args []string) (*config.AppConfig, []string, error) {
	cfg := config.NewDefaultConfig()
	var notes []string

	applied, err := config.LoadEnv(flags.envFile, &cfg)
	if err != nil {
		return nil, nil, err
	}
	if applied {
		notes = append(notes, fmt.Sprintf("loaded environment file '%s'", flags.envFile))
	}

	if flags.configPath != "" {
		if err := config.LoadFile(flags.configPath, &cfg); err != nil {
			return nil, nil, err
		}
	}

	changed := cmd.Flags().Changed
	if len(args) > 0 {
		cfg.StartURL = args[0]
	}
	if changed("search") || len(args) > 1 {
		search := append([]string(nil), flags.search...)
		if len(args) > 1 {
			search = append(search, args[1:]...)
		}
		cfg.Search = search
	}
	if changed("mode") {
		cfg.Mode = flags.mode
	}
	if changed("output") {
		cfg.OutputDir = flags.output
	}
	if changed("delay") {
		cfg.Delay = time.Duration(flags.delay * float64(time.Second))
	}
	if changed("workers") {
		cfg.Workers = flags.workers
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
	if changed("progress") {
		cfg.ShowProgress = flags.progress
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, nil, err
	}
	return &cfg, append(notes, warnings...), nil
}

// doCrawl runs one crawl with a validated config and returns the exit code.
// Only setup failures exit non-zero; an interrupt still exits 0 after cleanup.
func doCrawl(ctx context.Context, cfg *config.AppConfig, warnings []string, stdout, stderr io.Writer) int {
	logger := applog.NewLogger(cfg.Verbose, stderr)
	log := logrus.NewEntry(logger)
	for _, w := range warnings {
		log.Warn(w)
	}

	console := applog.NewConsole(stdout, cfg.Verbose)
	mode := models.FetchMode(cfg.Mode)

	chain, err := pattern.ParseChain(cfg.Search)
	if err != nil {
		return setupFailed(stderr, log, err)
	}

	printBanner(console, cfg, mode)
	logAppConfig(cfg, log)

	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	requester := fetch.NewFetcher(client, fetch.RetryPolicyFromConfig(cfg), log)

	var pool *fetch.ResourcePool
	if mode == models.FetchModeChrome {
		factory := fetch.NewChromeFactory(cfg.Browser, cfg.UserAgent, log)
		pool = fetch.NewResourcePool(factory, cfg.Workers, cfg.Browser.AcquireTimeout, log)
		defer func() {
			stats := pool.Stats()
			log.WithFields(logrus.Fields{
				"created":     stats.Created,
				"destroyed":   stats.Destroyed,
				"idle":        stats.Idle,
				"checked_out": stats.CheckedOut,
			}).Debug("Closing browser pool")
			if err := pool.DrainAndClose(); err != nil {
				log.WithError(err).Warn("Errors while closing browsers")
			}
		}()
	}

	pageFetcher, err := fetch.NewPageFetcher(mode, cfg, requester, pool, log)
	if err != nil {
		return setupFailed(stderr, log, err)
	}

	if pool != nil {
		// The first browser launch verifies Chrome is usable before any work is scheduled
		res, err := pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				console.Printf("\n❌ Interrupted by user")
				return 0
			}
			return setupFailed(stderr, log, err)
		}
		pool.Release(res)
	}

	sink := download.NewSink(requester, client, cfg, console, log)
	dispatcher := crawler.NewDispatcher(pageFetcher, sink, fetch.NewPacer(log), console,
		crawler.OptionsFromConfig(cfg, mode), log)

	start := time.Now()
	outcome := dispatcher.Run(ctx, cfg.StartURL, chain)

	log.WithFields(logrus.Fields{
		"downloaded":        outcome.Downloaded,
		"already_present":   outcome.Existing,
		"download_failures": outcome.Failed,
		"fetch_failures":    outcome.FetchFailures,
		"resource_failures": outcome.ResourceFailures,
		"task_failures":     outcome.TaskFailures,
		"pages_fetched":     outcome.PagesFetched,
		"duration":          time.Since(start).Round(time.Millisecond).String(),
	}).Info("Crawl finished")

	if ctx.Err() != nil {
		console.Printf("\n❌ Interrupted by user")
		return 0
	}
	console.Printf("\n✅ Completed! Downloaded %d files to '%s'", outcome.Downloaded, cfg.OutputDir)
	return 0
}

// setupFailed reports an error that stops the run before any work starts.
// Errors not already classified as fatal are wrapped as setup failures.
func setupFailed(stderr io.Writer, log *logrus.Entry, err error) int {
	if !utils.IsFatal(err) {
		err = fmt.Errorf("%w: %w", utils.ErrSetupFailure, err)
	}
	log.WithField("error_type", utils.CategorizeError(err)).Error("Setup failed")
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printBanner(console *applog.Console, cfg *config.AppConfig, mode models.FetchMode) {
	console.Printf("Starting recursive download from: %s", cfg.StartURL)
	console.Printf("Search patterns: %s", strings.Join(cfg.Search, " -> "))
	console.Printf("Mode: %s", mode)
	console.Printf("Output: %s", cfg.OutputDir)
	if cfg.Workers > 1 {
		workerType := "workers"
		if mode.Interactive() {
			workerType = "browsers"
		}
		console.Printf("Concurrent %s: %d", workerType, cfg.Workers)
	}
	if cfg.Verbose {
		console.Printf("Verbose: enabled")
	}
	console.Printf("%s", strings.Repeat("-", 50))
}

func logAppConfig(cfg *config.AppConfig, log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"workers":         cfg.Workers,
		"delay":           cfg.Delay,
		"delay_jitter":    cfg.DelayJitter,
		"hop_delay":       cfg.HopDelay,
		"item_delay":      cfg.ItemDelay,
		"page_jitter":     fmt.Sprintf("%v-%v", cfg.PageJitterMin, cfg.PageJitterMax),
		"max_retries":     cfg.MaxRetries,
		"http_timeout":    cfg.HTTPClientSettings.Timeout,
		"download_stall":  cfg.DownloadTimeout,
		"browser_ready":   cfg.Browser.PageReadyTimeout,
		"browser_acquire": cfg.Browser.AcquireTimeout,
	}).Debug("Effective configuration")
}
