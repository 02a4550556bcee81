package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"fleetsync/pkg/fleet"
)

// WriteConsole renders a bordered summary table. Colors are only emitted
// when w is a terminal.
func WriteConsole(w io.Writer, r *fleet.FleetReport) error {
	re := lipgloss.NewRenderer(w)
	ok := re.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	fail := re.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	muted := re.NewStyle().Foreground(lipgloss.Color("245"))
	title := re.NewStyle().Bold(true)
	box := re.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	width := 0
	for _, res := range r.Results {
		if n := len(res.Host.DisplayName()); n > width {
			width = n
		}
	}

	var b strings.Builder
	b.WriteString(title.Render(fmt.Sprintf("%s %s", strings.ToUpper(r.Operation), muted.Render(r.RunID))))
	b.WriteString("\n\n")

	for _, res := range r.Results {
		name := fmt.Sprintf("%-*s", width, res.Host.DisplayName())
		counts := fmt.Sprintf("%d/%d files", res.SuccessfulFiles, res.TotalFiles)
		if res.Succeeded {
			fmt.Fprintf(&b, "%s %s  %s", ok.Render("✓"), name, counts)
		} else {
			fmt.Fprintf(&b, "%s %s  %s  %s", fail.Render("✗"), name, counts, fail.Render(res.Reason()))
		}
		if res.Retries > 0 {
			b.WriteString(muted.Render(fmt.Sprintf("  (%d retries)", res.Retries)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	summary := r.Summary()
	if r.Succeeded() {
		b.WriteString(ok.Render(summary))
	} else {
		b.WriteString(fail.Render(summary))
	}

	_, err := fmt.Fprintln(w, box.Render(b.String()))
	return err
}
