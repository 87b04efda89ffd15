package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Required: StartURL
	if strings.TrimSpace(c.StartURL) == "" {
		return nil, fmt.Errorf("%w: a starting URL is required", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.Parse(c.StartURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: start URL %q must be an absolute http(s) URL", utils.ErrConfigValidation, c.StartURL)
	}

	// Required: Search
	if len(c.Search) == 0 {
		return nil, fmt.Errorf("%w: --search argument is required", utils.ErrConfigValidation)
	}
	for i, p := range c.Search {
		if strings.Trim(strings.TrimSpace(p), ">") == "" {
			return nil, fmt.Errorf("%w: search pattern #%d is empty", utils.ErrConfigValidation, i+1)
		}
	}

	// Mode
	mode, modeErr := models.ParseFetchMode(c.Mode)
	if modeErr != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, modeErr)
	}
	c.Mode = string(mode)

	// Workers
	if c.Workers <= 0 {
		warnings = append(warnings, "workers should be > 0, defaulting to 4")
		c.Workers = 4
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to 'downloads'")
		c.OutputDir = "downloads"
	}

	// Pacing delays
	for _, d := range []struct {
		name string
		v    *time.Duration
	}{
		{"delay", &c.Delay},
		{"delay_jitter", &c.DelayJitter},
		{"hop_delay", &c.HopDelay},
		{"item_delay", &c.ItemDelay},
		{"page_jitter_min", &c.PageJitterMin},
		{"page_jitter_max", &c.PageJitterMax},
	} {
		if *d.v < 0 {
			warnings = append(warnings, fmt.Sprintf("%s cannot be negative, setting to 0", d.name))
			*d.v = 0
		}
	}
	if c.PageJitterMax < c.PageJitterMin {
		warnings = append(warnings, fmt.Sprintf(
			"page_jitter_max (%v) < page_jitter_min (%v), using page_jitter_min for both",
			c.PageJitterMax, c.PageJitterMin))
		c.PageJitterMax = c.PageJitterMin
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 10 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}

	c.validateHTTPClientSettings()
	c.validateBrowserSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 20
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateBrowserSettings applies defaults to the interactive browser settings.
func (c *AppConfig) validateBrowserSettings() {
	b := &c.Browser
	if b.NavigationTimeout <= 0 {
		b.NavigationTimeout = 30 * time.Second
	}
	if b.PageReadyTimeout <= 0 {
		b.PageReadyTimeout = 10 * time.Second
	}
	if b.SettleDelay < 0 {
		b.SettleDelay = 0
	} else if b.SettleDelay == 0 {
		b.SettleDelay = 1 * time.Second
	}
	if b.AcquireTimeout <= 0 {
		b.AcquireTimeout = 30 * time.Second
	}
	if b.StartupTimeout <= 0 {
		b.StartupTimeout = 45 * time.Second
	}
}
