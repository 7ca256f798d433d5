package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewaylens/internal/config"
	"gatewaylens/internal/detect"
	"gatewaylens/internal/model"
	"gatewaylens/internal/parser"
	"gatewaylens/internal/stats"
	"gatewaylens/internal/timeline"
)

type Option func(*options)

type options struct {
	parserOpts   []parser.Option
	detectorOpts []detect.Option
}

func WithParserOptions(opts ...parser.Option) Option {
	return func(o *options) { o.parserOpts = append(o.parserOpts, opts...) }
}

func WithDetectorOptions(opts ...detect.Option) Option {
	return func(o *options) { o.detectorOpts = append(o.detectorOpts, opts...) }
}

// Outcome is everything one batch produced.
type Outcome struct {
	Entries  []model.ParsedLogEntry
	Report   parser.Report
	Result   model.AnalysisResult
	Failures []detect.Failure
	Duration time.Duration
}

// Analyzer runs the whole pipeline for one batch at a time. It holds no
// per-batch state, so one instance may serve concurrent calls.
type Analyzer struct {
	logger   *slog.Logger
	cfg      config.AnalysisConfig
	loc      *time.Location
	parser   *parser.Parser
	detector *detect.Detector
	timeline *timeline.Builder
}

func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	loc := cfg.Location()
	p, err := parser.New(cfg.Schema, loc, o.parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	return &Analyzer{
		logger:   logger,
		cfg:      cfg.Analysis,
		loc:      loc,
		parser:   p,
		detector: detect.New(cfg.Detection, loc, logger, o.detectorOpts...),
		timeline: timeline.New(cfg.Timeline),
	}, nil
}

func (a *Analyzer) Parser() *parser.Parser {
	return a.parser
}

// AnalyzeContent parses raw log text and analyses the resulting entries.
func (a *Analyzer) AnalyzeContent(ctx context.Context, content []byte) (*Outcome, error) {
	start := time.Now()
	if a.cfg.MaxBytes > 0 && int64(len(content)) > a.cfg.MaxBytes {
		return nil, batchErr(ErrInputTooLarge, "%d bytes exceeds limit of %d", len(content), a.cfg.MaxBytes)
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()

	lines := parser.NonBlankLines(string(content))
	if len(lines) == 0 {
		return nil, batchErr(ErrEmptyInput, "")
	}
	if !a.parser.ValidateLines(lines) {
		return nil, batchErr(ErrInvalidFormat, "expected at least %d comma-separated fields per line", a.parser.Schema().MinFields)
	}
	entries, report, err := a.parser.ParseAll(ctx, lines, a.cfg.ParseWorkers)
	if err != nil {
		return nil, contextErr(err)
	}
	if a.logger != nil && report.Rejected > 0 {
		a.logger.Warn("rejected log lines",
			"lines", report.Lines,
			"parsed", report.Parsed,
			"rejected", report.Rejected,
			"reasons", report.RejectReasons,
		)
	}
	if len(entries) == 0 {
		return nil, batchErr(ErrNoValidEntries, "%d lines rejected", report.Rejected)
	}
	out, err := a.analyze(ctx, entries)
	if err != nil {
		return nil, err
	}
	out.Report = report
	out.Duration = time.Since(start)
	return out, nil
}

// AnalyzeEntries analyses an already parsed batch, e.g. entries loaded back
// from storage.
func (a *Analyzer) AnalyzeEntries(ctx context.Context, entries []model.ParsedLogEntry) (*Outcome, error) {
	start := time.Now()
	if len(entries) == 0 {
		return nil, batchErr(ErrNoValidEntries, "")
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()
	out, err := a.analyze(ctx, entries)
	if err != nil {
		return nil, err
	}
	out.Report = parser.Report{Lines: len(entries), Parsed: len(entries), RejectReasons: map[string]int{}}
	out.Duration = time.Since(start)
	return out, nil
}

// chronological returns a copy of entries stably sorted by timestamp. Ties
// keep input order, matching how stored entries are reloaded.
func chronological(entries []model.ParsedLogEntry) []model.ParsedLogEntry {
	out := slices.Clone(entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// analyze runs every step on the time-ordered batch; the returned Outcome
// keeps the caller's order for persistence.
func (a *Analyzer) analyze(ctx context.Context, entries []model.ParsedLogEntry) (*Outcome, error) {
	ordered := chronological(entries)
	var (
		st       stats.Statistics
		detected detect.Result
		events   []model.TimelineEvent
		summary  model.TimelineSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st = stats.Compute(ordered, stats.Options{
			Location:             a.loc,
			TopN:                 a.cfg.TopN,
			SuspiciousMultiplier: a.cfg.SuspiciousIPMultiplier,
		})
		return gctx.Err()
	})
	g.Go(func() error {
		var err error
		detected, err = a.detector.Detect(gctx, ordered)
		return err
	})
	g.Go(func() error {
		events = a.timeline.Events(ordered)
		summary = timeline.Summarize(ordered)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, contextErr(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, contextErr(err)
	}

	result := model.AnalysisResult{
		TotalRequests:      st.TotalRequests,
		BlockedRequests:    st.BlockedRequests,
		AllowedRequests:    st.AllowedRequests,
		UniqueIPs:          st.UniqueIPs,
		UniqueURLs:         st.UniqueURLs,
		TopApplications:    st.TopApplications,
		TopCategories:      st.TopCategories,
		TopSourceIPs:       st.TopSourceIPs,
		HourlyBreakdown:    st.HourlyBreakdown,
		DailyBreakdown:     st.DailyBreakdown,
		SuspiciousIPs:      st.SuspiciousIPs,
		HighSeverityEvents: st.HighSeverityEvents,
		Anomalies:          detected.Anomalies,
		TimelineEvents:     events,
		TimelineSummary:    summary,
		KeyInsights:        a.timeline.Insights(ordered, st, detected.Anomalies),
	}
	if a.logger != nil {
		a.logger.Info("batch analysed",
			"entries", len(entries),
			"anomalies", len(result.Anomalies),
			"detector_failures", len(detected.Failures),
		)
	}
	return &Outcome{Entries: entries, Result: result, Failures: detected.Failures}, nil
}

func (a *Analyzer) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func contextErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &BatchError{Kind: context.DeadlineExceeded, Err: errors.New("analysis timed out")}
	case errors.Is(err, context.Canceled):
		return &BatchError{Kind: context.Canceled}
	}
	return err
}
