package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the configuration for one recursive download run
type AppConfig struct {
	StartURL           string           `yaml:"start_url"`
	Search             []string         `yaml:"search"` // One entry per hop, each may be a '>'-delimited fallback chain
	Mode               string           `yaml:"mode"`   // requests | chrome | firefox
	OutputDir          string           `yaml:"output_dir"`
	Workers            int              `yaml:"workers"`
	Verbose            bool             `yaml:"verbose,omitempty"`
	ShowProgress       bool             `yaml:"show_progress,omitempty"`
	UserAgent          string           `yaml:"user_agent,omitempty"`
	Delay              time.Duration    `yaml:"delay"`                     // Base pause before every non-root page fetch
	DelayJitter        time.Duration    `yaml:"delay_jitter,omitempty"`    // Random extra pause added to Delay
	HopDelay           time.Duration    `yaml:"hop_delay,omitempty"`       // Pause between sequential recursive hops
	ItemDelay          time.Duration    `yaml:"item_delay,omitempty"`      // Pause between sequential downloads
	PageJitterMin      time.Duration    `yaml:"page_jitter_min,omitempty"` // Random pause before each direct fetch
	PageJitterMax      time.Duration    `yaml:"page_jitter_max,omitempty"`
	MaxRetries         int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	DownloadTimeout    time.Duration    `yaml:"download_timeout,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Browser            BrowserConfig    `yaml:"browser,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Per-request timeout for page fetches
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// BrowserConfig holds settings for pooled interactive browser sessions
type BrowserConfig struct {
	Headless          *bool         `yaml:"headless,omitempty"` // nil=true
	ExecPath          string        `yaml:"exec_path,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout,omitempty"`
	PageReadyTimeout  time.Duration `yaml:"page_ready_timeout,omitempty"` // Max wait for <body> after navigation
	SettleDelay       time.Duration `yaml:"settle_delay,omitempty"`       // Pause after page-ready before capturing HTML
	AcquireTimeout    time.Duration `yaml:"acquire_timeout,omitempty"`    // Max wait for an idle session when the pool is at capacity
	StartupTimeout    time.Duration `yaml:"startup_timeout,omitempty"`
}

// NewDefaultConfig returns the configuration used when nothing else is specified
func NewDefaultConfig() AppConfig {
	return AppConfig{
		Mode:              "requests",
		OutputDir:         "downloads",
		Workers:           4,
		Delay:             1 * time.Second,
		DelayJitter:       500 * time.Millisecond,
		HopDelay:          300 * time.Millisecond,
		ItemDelay:         500 * time.Millisecond,
		PageJitterMin:     500 * time.Millisecond,
		PageJitterMax:     1500 * time.Millisecond,
		MaxRetries:        3,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     10 * time.Second,
		DownloadTimeout:   60 * time.Second,
	}
}

// GetEffectiveHeadless determines whether browsers run without a window
func (b BrowserConfig) GetEffectiveHeadless() bool {
	if b.Headless != nil {
		return *b.Headless
	}
	return true
}

// LoadFile overlays the YAML file at path onto cfg; keys absent from the file keep their current values
func LoadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
