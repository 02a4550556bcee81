package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"fleetsync/pkg/fleet"
)

// ConsoleSink prints one line per event for an operator watching a terminal.
type ConsoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	ok    lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
	host  lipgloss.Style
}

// NewConsoleSink writes to out. Unless verbose, connect events are skipped.
func NewConsoleSink(out io.Writer, verbose bool) *ConsoleSink {
	r := lipgloss.NewRenderer(out)
	return &ConsoleSink{
		out:     out,
		verbose: verbose,
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:    r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("245")),
		host:    r.NewStyle().Bold(true),
	}
}

func (c *ConsoleSink) Report(e fleet.ProgressEvent) {
	line := c.format(e)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, line)
}

func (c *ConsoleSink) format(e fleet.ProgressEvent) string {
	host := c.host.Render(e.Hostname)
	switch e.Type {
	case fleet.EventConnected:
		if !c.verbose {
			return ""
		}
		return fmt.Sprintf("%s %s", host, c.muted.Render("connected"))
	case fleet.EventFile:
		counter := c.muted.Render(fmt.Sprintf("[%d/%d]", e.FilesCompleted, e.TotalFiles))
		if e.Succeeded {
			return fmt.Sprintf("%s %s %s %s", c.ok.Render("✓"), host, counter, e.CurrentFile)
		}
		return fmt.Sprintf("%s %s %s %s: %s", c.fail.Render("✗"), host, counter, e.CurrentFile, e.Error)
	case fleet.EventRetry:
		return fmt.Sprintf("%s %s retry after attempt %d on %s: %s",
			c.warn.Render("↻"), host, e.Attempt, e.CurrentFile, e.Error)
	case fleet.EventHostDone:
		if e.Succeeded {
			return fmt.Sprintf("%s %s done %d/%d", c.ok.Render("●"), host, e.FilesCompleted, e.TotalFiles)
		}
		return fmt.Sprintf("%s %s failed: %s", c.fail.Render("●"), host, e.Error)
	}
	return ""
}
