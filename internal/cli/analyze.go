package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/parser"
)

type AnalyzeCmd struct {
	File       string `arg:"" type:"existingfile" help:"Log file to analyse"`
	JSON       bool   `help:"Print the full analysis result as JSON"`
	NoProgress bool   `name:"no-progress" help:"Disable the progress bar"`
	Timeline   int    `default:"10" help:"Number of timeline events to print (0 hides them)"`
}

func (c *AnalyzeCmd) Run(g *Globals) error {
	mgr, logger, err := g.Load()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}

	var opts []analysis.Option
	var bar *progressbar.ProgressBar
	if !c.NoProgress && !c.JSON {
		bar = newProgress(g.Stderr, len(parser.NonBlankLines(string(data))))
		opts = append(opts, analysis.WithParserOptions(parser.WithProgress(func(n int) {
			_ = bar.Add(n)
		})))
	}
	analyzer, err := analysis.New(mgr.Get(), logger, opts...)
	if err != nil {
		return err
	}
	out, err := analyzer.AnalyzeContent(context.Background(), data)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Result)
	}
	NewReport(g.Stdout).Render(c.File, out, c.Timeline)
	return nil
}

type ValidateCmd struct {
	File string `arg:"" type:"existingfile" help:"Log file to check"`
}

func (c *ValidateCmd) Run(g *Globals) error {
	mgr, _, err := g.Load()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}
	p, err := parser.New(mgr.Get().Schema, mgr.Get().Location())
	if err != nil {
		return err
	}
	lines := parser.NonBlankLines(string(data))
	if !p.ValidateLines(lines) {
		return fmt.Errorf("%s: %w", c.File, analysis.ErrInvalidFormat)
	}
	_, report, err := p.ParseAll(context.Background(), lines, mgr.Get().Analysis.ParseWorkers)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Stdout, "%s: valid %s log, %d lines, %d parsed, %d rejected\n",
		c.File, p.Schema().Name, report.Lines, report.Parsed, report.Rejected)
	for reason, n := range report.RejectReasons {
		fmt.Fprintf(g.Stdout, "  %s: %d\n", reason, n)
	}
	return nil
}
