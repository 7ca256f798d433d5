package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/schollz/progressbar/v3"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/model"
)

func newProgress(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetDescription("[1/2 PARSING LOGS]"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Report renders an analysis outcome as console tables.
type Report struct {
	w io.Writer
}

func NewReport(w io.Writer) *Report {
	return &Report{w: w}
}

func (r *Report) Render(name string, out *analysis.Outcome, timelineLimit int) {
	res := out.Result
	fmt.Fprintf(r.w, "\n[2/2 ANALYSIS COMPLETE] %s (%d lines, %d parsed, %d rejected, %s)\n\n",
		name, out.Report.Lines, out.Report.Parsed, out.Report.Rejected, out.Duration.Round(1e6))

	t := r.table("Overview")
	t.AppendRows([]table.Row{
		{"Total requests", res.TotalRequests},
		{"Blocked", res.BlockedRequests},
		{"Allowed", res.AllowedRequests},
		{"Unique IPs", res.UniqueIPs},
		{"Unique URLs", res.UniqueURLs},
		{"High severity events", res.HighSeverityEvents},
		{"Suspicious IPs", len(res.SuspiciousIPs)},
	})
	t.Render()

	if len(res.TopApplications) > 0 {
		t = r.table("Top applications")
		t.AppendHeader(table.Row{"Application", "Requests"})
		for _, nc := range res.TopApplications {
			t.AppendRow(table.Row{nc.Name, nc.Count})
		}
		t.Render()
	}
	if len(res.TopSourceIPs) > 0 {
		t = r.table("Top source IPs")
		t.AppendHeader(table.Row{"IP Address", "Requests"})
		for _, ic := range res.TopSourceIPs {
			t.AppendRow(table.Row{ic.IP, ic.Count})
		}
		t.Render()
	}

	if len(res.Anomalies) == 0 {
		fmt.Fprintln(r.w, "\nNo anomalies detected.")
	} else {
		t = r.table("Anomalies")
		t.AppendHeader(table.Row{"Severity", "Type", "Confidence", "Subject", "Explanation"})
		for _, a := range res.Anomalies {
			t.AppendRow(table.Row{severityColor(a.Severity).Sprint(a.Severity), a.Type, a.Confidence, subject(a), a.Explanation})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 80}})
		t.Style().Options.SeparateRows = true
		t.Render()
	}
	for _, f := range out.Failures {
		fmt.Fprintf(r.w, "detector %s failed: %s\n", f.Detector, f.Error)
	}

	if timelineLimit > 0 && len(res.TimelineEvents) > 0 {
		t = r.table("Timeline")
		t.AppendHeader(table.Row{"Time", "Type", "Severity", "Title"})
		for i, ev := range res.TimelineEvents {
			if i == timelineLimit {
				t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("... %d more", len(res.TimelineEvents)-timelineLimit)})
				break
			}
			t.AppendRow(table.Row{ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Type, ev.Severity, ev.Title})
		}
		t.Render()
	}

	if len(res.KeyInsights) > 0 {
		fmt.Fprintln(r.w, "\nKey insights:")
		for _, s := range res.KeyInsights {
			fmt.Fprintf(r.w, "  - %s\n", s)
		}
	}
}

func (r *Report) table(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

func subject(a model.Anomaly) string {
	switch {
	case a.ClientIP != "":
		return a.ClientIP
	case a.URL != "":
		return a.URL
	}
	return "-"
}

func severityColor(s model.Severity) text.Colors {
	switch s {
	case model.SeverityCritical:
		return text.Colors{text.FgHiRed, text.Bold}
	case model.SeverityHigh:
		return text.Colors{text.FgRed}
	case model.SeverityMedium:
		return text.Colors{text.FgYellow}
	}
	return text.Colors{text.FgGreen}
}
