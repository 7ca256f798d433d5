package detect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

type detectFunc func(idx *Index) []model.Anomaly

type unit struct {
	name    string
	enabled bool
	run     detectFunc
}

// registry lists every detector in registration order. Order matters: with
// the "first" dedupe strategy the earlier detector wins a shared key.
func registry(cfg config.DetectionConfig) []unit {
	return []unit{
		{"url_patterns", cfg.URLPatterns.Enabled, urlPatterns(cfg.URLPatterns)},
		{"user_agent", cfg.UserAgent.Enabled, userAgents(cfg.UserAgent)},
		{"geographic", cfg.Geographic.Enabled, geographic(cfg.Geographic)},
		{"time_hourly", cfg.TimeHourly.Enabled, hourlyTraffic(cfg.TimeHourly)},
		{"time_minute", cfg.TimeMinute.Enabled, minuteTraffic(cfg.TimeMinute)},
		{"response_codes", cfg.ResponseCodes.Enabled, responseCodes(cfg.ResponseCodes)},
		{"file_access", cfg.FileAccess.Enabled, fileAccess(cfg.FileAccess)},
		{"ssl_decryption", cfg.SSLDecryption.Enabled, sslDecryption(cfg.SSLDecryption)},
		{"ssl_legacy_tls", cfg.SSLLegacyTLS.Enabled, legacyTLS(cfg.SSLLegacyTLS)},
		{"bandwidth", cfg.Bandwidth.Enabled, bandwidth(cfg.Bandwidth)},
		{"request_frequency", cfg.RequestFrequency.Enabled, requestFrequency(cfg.RequestFrequency)},
		{"ip_behavior", cfg.IPBehavior.Enabled, ipBehavior(cfg.IPBehavior)},
	}
}

type Option func(*Detector)

// WithDetector appends a custom detector after the built-in ones.
func WithDetector(name string, fn func(idx *Index) []model.Anomaly) Option {
	return func(d *Detector) {
		d.units = append(d.units, unit{name: name, enabled: true, run: fn})
	}
}

type Failure struct {
	Detector string `json:"detector"`
	Error    string `json:"error"`
}

type Result struct {
	Anomalies []model.Anomaly `json:"anomalies"`
	Failures  []Failure       `json:"failures,omitempty"`
}

// Detector runs the configured heuristics over one batch. It keeps no state
// between calls.
type Detector struct {
	logger   *slog.Logger
	loc      *time.Location
	strategy string
	parallel bool
	units    []unit
}

func New(cfg config.DetectionConfig, loc *time.Location, logger *slog.Logger, opts ...Option) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	d := &Detector{
		logger:   logger,
		loc:      loc,
		strategy: cfg.DedupeStrategy,
		parallel: cfg.Parallel,
		units:    registry(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Names returns every registered detector in registration order.
func (d *Detector) Names() []string {
	out := make([]string, 0, len(d.units))
	for _, u := range d.units {
		out = append(out, u.name)
	}
	return out
}

func (d *Detector) Enabled() []string {
	var out []string
	for _, u := range d.units {
		if u.enabled {
			out = append(out, u.name)
		}
	}
	return out
}

type outcome struct {
	anomalies []model.Anomaly
	err       error
	stack     string
}

// Detect runs every enabled detector over entries. A detector that panics is
// reported in Result.Failures; the others still contribute.
func (d *Detector) Detect(ctx context.Context, entries []model.ParsedLogEntry) (Result, error) {
	res := Result{Anomalies: []model.Anomaly{}}
	if len(entries) == 0 {
		return res, ctx.Err()
	}
	idx := NewIndex(entries, d.loc)

	active := make([]unit, 0, len(d.units))
	for _, u := range d.units {
		if u.enabled {
			active = append(active, u)
		}
	}
	slots := make([]outcome, len(active))
	if d.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, u := range active {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				slots[i] = runUnit(u, idx)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
	} else {
		for i, u := range active {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			slots[i] = runUnit(u, idx)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var all []model.Anomaly
	for i, s := range slots {
		if s.err != nil {
			res.Failures = append(res.Failures, Failure{Detector: active[i].name, Error: s.err.Error()})
			if d.logger != nil {
				d.logger.Error("detector failed", "detector", active[i].name, "error", s.err, "stack", s.stack)
			}
			continue
		}
		all = append(all, s.anomalies...)
	}
	res.Anomalies = finalize(all, d.strategy)
	if d.logger != nil {
		d.logger.Debug("detection complete",
			"entries", len(entries),
			"detectors", len(active),
			"anomalies", len(res.Anomalies),
			"failures", len(res.Failures),
		)
	}
	return res, nil
}

func runUnit(u unit, idx *Index) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("panic: %v", r), stack: string(debug.Stack())}
		}
	}()
	return outcome{anomalies: u.run(idx)}
}

// finalize dedupes by (type, subject) and orders by confidence, highest
// first. "first" keeps the earliest registered record per key; "highest"
// keeps the most confident one.
func finalize(in []model.Anomaly, strategy string) []model.Anomaly {
	if strategy == config.DedupeHighest {
		sortByConfidence(in)
		return dedupe(in)
	}
	out := dedupe(in)
	sortByConfidence(out)
	return out
}

func dedupe(in []model.Anomaly) []model.Anomaly {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Anomaly, 0, len(in))
	for _, a := range in {
		key := a.DedupeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func sortByConfidence(list []model.Anomaly) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
}
