package timeline

import (
	"fmt"
	"sort"
	"strings"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
	"gatewaylens/internal/stats"
)

const summarySeparator = " • "

type Builder struct {
	markers          []string
	highRiskScore    int
	blockRateInsight float64
}

func New(cfg config.TimelineConfig) *Builder {
	b := &Builder{
		markers:          cfg.SensitiveMarkers,
		highRiskScore:    cfg.HighRiskScore,
		blockRateInsight: cfg.BlockRateInsight,
	}
	if b.markers == nil {
		b.markers = []string{"HR", "Admin", "Salary"}
	}
	if b.highRiskScore <= 0 {
		b.highRiskScore = 70
	}
	if b.blockRateInsight <= 0 {
		b.blockRateInsight = 10
	}
	return b
}

// Events projects every entry onto one timeline event, oldest first. The
// input slice is left untouched.
func (b *Builder) Events(entries []model.ParsedLogEntry) []model.TimelineEvent {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return entries[order[i]].Timestamp.Before(entries[order[j]].Timestamp)
	})
	events := make([]model.TimelineEvent, 0, len(entries))
	for n, i := range order {
		e := &entries[i]
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("event-%d", n)
		}
		events = append(events, model.TimelineEvent{
			ID:         id,
			Type:       b.classify(e),
			Timestamp:  e.Timestamp,
			Title:      Title(e),
			Summary:    Summary(e),
			Details:    details(e),
			Severity:   MapSeverity(e.ThreatSeverity),
			Expandable: true,
		})
	}
	return events
}

func (b *Builder) classify(e *model.ParsedLogEntry) model.EventType {
	if e.Blocked() {
		return model.EventEventCluster
	}
	if app := e.ApplicationName(); app != "" {
		for _, marker := range b.markers {
			if strings.Contains(app, marker) {
				return model.EventIPCluster
			}
		}
	}
	return model.EventLogEntry
}

func MapSeverity(severity string) model.Severity {
	s := strings.ToLower(severity)
	switch {
	case strings.Contains(s, "critical"):
		return model.SeverityCritical
	case strings.Contains(s, "high"):
		return model.SeverityHigh
	case strings.Contains(s, "medium"):
		return model.SeverityMedium
	}
	return model.SeverityLow
}

func Title(e *model.ParsedLogEntry) string {
	ip := or(e.ClientIP, "unknown IP")
	if e.Blocked() {
		return fmt.Sprintf("Blocked %s from %s", or(e.RequestMethod, "request"), ip)
	}
	if app := e.ApplicationName(); !model.IsPlaceholder(app) {
		return fmt.Sprintf("%s access from %s", app, ip)
	}
	if e.URL != "" {
		domain, _, _ := strings.Cut(e.URL, "/")
		return fmt.Sprintf("%s to %s from %s", or(e.RequestMethod, "Request"), domain, ip)
	}
	return "Request from " + ip
}

// Summary joins action, app class, app name and method, skipping empty and
// placeholder values.
func Summary(e *model.ParsedLogEntry) string {
	parts := make([]string, 0, 4)
	for _, v := range []string{e.Action, e.AppClass, e.ApplicationName(), e.RequestMethod} {
		if !model.IsPlaceholder(v) {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, summarySeparator)
}

func details(e *model.ParsedLogEntry) map[string]any {
	d := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	put("clientIP", e.ClientIP)
	put("serverIP", e.ServerIP)
	put("url", e.URL)
	put("action", e.Action)
	put("urlCategory", e.URLCategory)
	put("threatName", e.ThreatName)
	put("threatSeverity", e.ThreatSeverity)
	put("requestMethod", e.RequestMethod)
	put("responseCode", e.ResponseCode)
	put("sourceIPCountry", e.SourceCountry)
	put("destinationIPCountry", e.DestinationCountry)
	put("userAgent", e.UserAgent)
	put("reason", e.Reason)
	put("appName", e.AppName)
	put("appClass", e.AppClass)
	put("location", e.Location)
	put("department", e.Department)
	if e.RiskScore != nil {
		d["riskScore"] = *e.RiskScore
	}
	return d
}

// Summarize counts blocked entries, everything else as allowed, and entries
// carrying a high or critical threat severity.
func Summarize(entries []model.ParsedLogEntry) model.TimelineSummary {
	s := model.TimelineSummary{TotalEvents: len(entries)}
	for i := range entries {
		if entries[i].Blocked() {
			s.EventBreakdown.Blocked++
		}
		if entries[i].HighSeverity() {
			s.EventBreakdown.Anomalies++
		}
	}
	s.EventBreakdown.Allowed = s.TotalEvents - s.EventBreakdown.Blocked
	return s
}

// Insights renders the short narrative for a batch. Anomalies come from the
// batch's single detection run.
func (b *Builder) Insights(entries []model.ParsedLogEntry, st stats.Statistics, anomalies []model.Anomaly) []string {
	insights := []string{}
	if len(st.TopApplications) > 0 && st.TopApplications[0].Count > 0 {
		top := st.TopApplications[0]
		insights = append(insights, fmt.Sprintf("Most accessed application: %s (%d accesses)", top.Name, top.Count))
	}
	if n := len(st.SuspiciousIPs); n > 0 {
		insights = append(insights, fmt.Sprintf("%d suspicious IP addresses identified", n))
	}
	if len(entries) > 0 {
		rate := float64(st.BlockedRequests) / float64(len(entries)) * 100
		if rate > b.blockRateInsight {
			insights = append(insights, fmt.Sprintf("High block rate: %.1f%% of requests were blocked", rate))
		}
	}
	highRisk := 0
	classes := map[string]struct{}{}
	for i := range entries {
		e := &entries[i]
		if e.RiskScore != nil && *e.RiskScore > b.highRiskScore {
			highRisk++
		}
		if e.AppClass != "" {
			classes[e.AppClass] = struct{}{}
		}
	}
	if highRisk > 0 {
		insights = append(insights, fmt.Sprintf("%d high-risk requests detected (risk score > %d)", highRisk, b.highRiskScore))
	}
	if len(classes) > 0 {
		insights = append(insights, fmt.Sprintf("Traffic spans %d application categories", len(classes)))
	}
	if len(anomalies) == 0 {
		return insights
	}
	var critical, high int
	lo, hi := anomalies[0].Confidence, anomalies[0].Confidence
	for _, a := range anomalies {
		switch a.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		}
		lo = min(lo, a.Confidence)
		hi = max(hi, a.Confidence)
	}
	if critical > 0 {
		insights = append(insights, fmt.Sprintf("%d critical anomalies detected requiring immediate attention", critical))
	}
	if high > 0 {
		insights = append(insights, fmt.Sprintf("%d high-severity anomalies identified", high))
	}
	insights = append(insights, fmt.Sprintf("%d total anomalies detected with confidence scores ranging from %d%% to %d%%", len(anomalies), lo, hi))
	return insights
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
