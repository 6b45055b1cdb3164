package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
)

var (
	headColor = color.New(color.Bold)
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// printSummary writes a human readable summary of report
func printSummary(w io.Writer, report *model.RunReport) {
	headColor.Fprintf(w, "\n%s", report.Job)
	dimColor.Fprintf(w, " (run %s)\n", report.RunID)
	fmt.Fprintf(w, "  endpoint:    %s\n", report.Endpoint)
	fmt.Fprintf(w, "  destination: %s\n", report.Destination)
	fmt.Fprintf(w, "  discovered:  %d\n", report.Discovered)
	fmt.Fprintf(w, "  succeeded:   %d\n", report.Succeeded)
	fmt.Fprintf(w, "  failed:      %d\n", len(report.Failed))
	fmt.Fprintf(w, "  waves:       %d\n", report.Waves)
	fmt.Fprintf(w, "  elapsed:     %s\n", report.Elapsed.Round(time.Millisecond))

	for _, f := range report.Failed {
		marker := failColor
		if f.Unresolved {
			marker = warnColor
		}
		marker.Fprint(w, "  ✗ ")
		fmt.Fprintf(w, "%s: %s", f.Remote, f.Reason)
		if f.Attempts > 0 {
			dimColor.Fprintf(w, " [%d attempts]", f.Attempts)
		}
		fmt.Fprintln(w)
	}

	switch {
	case report.Error != "":
		failColor.Fprintf(w, "  FAILED: %s\n", report.Error)
	case report.Aborted:
		warnColor.Fprintln(w, "  ABORTED")
	case len(report.Failed) > 0:
		warnColor.Fprintln(w, "  FINISHED WITH FAILURES")
	default:
		okColor.Fprintln(w, "  OK")
	}
}
