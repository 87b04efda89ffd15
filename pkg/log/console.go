package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console prints user-facing progress lines. Concurrent workers share one Console,
// so each line is written atomically.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsole wraps out; a nil writer discards everything
func NewConsole(out io.Writer, verbose bool) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{out: out, verbose: verbose}
}

// Verbose reports whether detailed progress was requested
func (c *Console) Verbose() bool { return c.verbose }

// Printf writes one formatted line, adding the trailing newline if missing
func (c *Console) Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, line)
}

// Indentf writes a line indented two spaces per depth level
func (c *Console) Indentf(depth int, format string, args ...interface{}) {
	c.Printf(Indent(depth)+format, args...)
}

// Writer exposes a serialized writer for components that render their own output (progress bars)
func (c *Console) Writer() io.Writer {
	return lockedWriter{c}
}

type lockedWriter struct{ c *Console }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.out.Write(p)
}

// Indent returns the prefix used for nested crawl output
func Indent(depth int) string {
	if depth <= 0 {
		return ""
	}
	return strings.Repeat("  ", depth)
}
