package models

import (
	"fmt"
	"strings"
)

// FetchMode selects how pages are retrieved
type FetchMode string

const (
	FetchModeDirect  FetchMode = "requests" // Stateless HTTP fetch
	FetchModeChrome  FetchMode = "chrome"   // Pooled headless Chrome session
	FetchModeFirefox FetchMode = "firefox"  // Accepted for compatibility, not available in this build
)

// ParseFetchMode maps a user-supplied mode string to a FetchMode
// "direct" is accepted as an alias of "requests"
func ParseFetchMode(s string) (FetchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "requests", "direct":
		return FetchModeDirect, nil
	case "chrome":
		return FetchModeChrome, nil
	case "firefox":
		return FetchModeFirefox, nil
	}
	return "", fmt.Errorf("unknown fetch mode %q (want requests, chrome or firefox)", s)
}

// Interactive reports whether the mode needs a pooled browser resource
func (m FetchMode) Interactive() bool {
	return m == FetchModeChrome || m == FetchModeFirefox
}

// Pattern is one hop of the crawl: an ordered fallback chain of suffix filters
// The first filter yielding at least one link is the active filter for the hop
type Pattern struct {
	Raw     string   // Pattern as given by the user, e.g. "*.flac>*.mp3"
	Filters []string // Never empty once parsed
}

// Primary returns the first filter of the fallback chain
func (p Pattern) Primary() string {
	if len(p.Filters) == 0 {
		return ""
	}
	return p.Filters[0]
}

// HasFallback reports whether the pattern carries more than one filter
func (p Pattern) HasFallback() bool { return len(p.Filters) > 1 }

func (p Pattern) String() string {
	if p.Raw != "" {
		return p.Raw
	}
	return strings.Join(p.Filters, ">")
}

// Chain is the ordered list of patterns, consumed left to right as depth increases
type Chain []Pattern

// Head returns the pattern for the current hop
func (c Chain) Head() Pattern {
	if len(c) == 0 {
		return Pattern{}
	}
	return c[0]
}

// Rest returns the chain with the current hop consumed
func (c Chain) Rest() Chain {
	if len(c) <= 1 {
		return nil
	}
	return c[1:]
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = p.String()
	}
	return strings.Join(parts, " -> ")
}

// CrawlTask is the unit of recursive work: fetch URL, resolve Chain.Head(), then recurse or download
type CrawlTask struct {
	URL   string
	Chain Chain
	Depth int
}

// Valid reports whether the task may be scheduled
func (t CrawlTask) Valid() bool {
	return t.URL != "" && len(t.Chain) > 0
}

// FinalHop reports whether links found by this task are the downloadable set
func (t CrawlTask) FinalHop() bool { return len(t.Chain) == 1 }

// Child derives the task for a link found at this hop
func (t CrawlTask) Child(link string) CrawlTask {
	return CrawlTask{URL: link, Chain: t.Chain.Rest(), Depth: t.Depth + 1}
}

// Outcome aggregates results across a task's recursive subtree
// Downloaded counts every successful sink call, including files that already existed
type Outcome struct {
	Downloaded       int // Successful downloads (Existing is a subset)
	Existing         int // Destination already present, transfer skipped
	Failed           int // Download sink failures
	FetchFailures    int // Pages that could not be fetched or parsed
	ResourceFailures int // Tasks abandoned because no fetch resource was available
	TaskFailures     int // Child tasks that crashed
	PagesFetched     int
}

// Add returns the sum of two outcomes
func (o Outcome) Add(other Outcome) Outcome {
	return Outcome{
		Downloaded:       o.Downloaded + other.Downloaded,
		Existing:         o.Existing + other.Existing,
		Failed:           o.Failed + other.Failed,
		FetchFailures:    o.FetchFailures + other.FetchFailures,
		ResourceFailures: o.ResourceFailures + other.ResourceFailures,
		TaskFailures:     o.TaskFailures + other.TaskFailures,
		PagesFetched:     o.PagesFetched + other.PagesFetched,
	}
}

// Errors returns the number of contained failures of any kind
func (o Outcome) Errors() int {
	return o.Failed + o.FetchFailures + o.ResourceFailures + o.TaskFailures
}
