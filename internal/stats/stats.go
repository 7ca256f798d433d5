package stats

import (
	"fmt"
	"sort"
	"time"

	"gatewaylens/internal/model"
)

type Options struct {
	Location *time.Location
	TopN     int
	// SuspiciousMultiplier flags an IP whose request count exceeds this
	// multiple of the mean requests per IP.
	SuspiciousMultiplier float64
}

func DefaultOptions() Options {
	return Options{Location: time.UTC, TopN: 10, SuspiciousMultiplier: 3}
}

// Statistics is the aggregate view of one batch.
type Statistics struct {
	TotalRequests      int                `json:"totalRequests"`
	BlockedRequests    int                `json:"blockedRequests"`
	AllowedRequests    int                `json:"allowedRequests"`
	UniqueIPs          int                `json:"uniqueIPs"`
	UniqueURLs         int                `json:"uniqueURLs"`
	TopApplications    []model.NamedCount `json:"topThreats"`
	TopCategories      []model.NamedCount `json:"topCategories"`
	TopSourceIPs       []model.IPCount    `json:"topSourceIPs"`
	HourlyBreakdown    []model.HourCount  `json:"hourlyBreakdown"`
	DailyBreakdown     []model.DateCount  `json:"dailyBreakdown"`
	SuspiciousIPs      []string           `json:"suspiciousIPs"`
	HighSeverityEvents int                `json:"highSeverityEvents"`
}

// Compute aggregates entries in a single pass. Entries are only read.
func Compute(entries []model.ParsedLogEntry, opts Options) Statistics {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.SuspiciousMultiplier <= 0 {
		opts.SuspiciousMultiplier = 3
	}

	var (
		apps       = newCounter()
		categories = newCounter()
		ips        = newCounter()
		urls       = map[string]struct{}{}
		hours      = map[int]int{}
		days       = map[string]int{}
		blocked    = newOrderedSet()
		severe     = newOrderedSet()
	)
	st := Statistics{TotalRequests: len(entries)}
	for i := range entries {
		e := &entries[i]
		if e.Blocked() {
			st.BlockedRequests++
			if e.ClientIP != "" {
				blocked.add(e.ClientIP)
			}
		}
		if e.Allowed() {
			st.AllowedRequests++
		}
		if e.HighSeverity() {
			st.HighSeverityEvents++
			if e.ClientIP != "" {
				severe.add(e.ClientIP)
			}
		}
		if e.ClientIP != "" {
			ips.add(e.ClientIP)
		}
		if e.URL != "" {
			urls[e.URL] = struct{}{}
		}
		if app := e.ApplicationName(); !model.IsPlaceholder(app) {
			apps.add(app)
		}
		if cat := Category(e); !model.IsPlaceholder(cat) {
			categories.add(cat)
		}
		hours[e.Timestamp.In(opts.Location).Hour()]++
		days[e.Timestamp.UTC().Format(time.DateOnly)]++
	}

	st.UniqueIPs = len(ips.counts)
	st.UniqueURLs = len(urls)
	st.TopApplications = apps.top(opts.TopN)
	st.TopCategories = categories.top(opts.TopN)
	st.TopSourceIPs = make([]model.IPCount, 0, opts.TopN)
	for _, nc := range ips.top(opts.TopN) {
		st.TopSourceIPs = append(st.TopSourceIPs, model.IPCount{IP: nc.Name, Count: nc.Count})
	}
	st.HourlyBreakdown = hourly(hours)
	st.DailyBreakdown = daily(days)
	st.SuspiciousIPs = suspicious(len(entries), ips, opts.SuspiciousMultiplier, blocked, severe)
	return st
}

// Category is the URL category, falling back to the application class.
func Category(e *model.ParsedLogEntry) string {
	if e.URLCategory != "" {
		return e.URLCategory
	}
	if e.AppClass != "" {
		return e.AppClass
	}
	return "Unknown"
}

// suspicious unions the volume outliers with the IPs seen on blocked requests
// and on high severity threats, in that order.
func suspicious(total int, ips *counter, multiplier float64, flagged ...*orderedSet) []string {
	out := newOrderedSet()
	if n := len(ips.counts); n > 0 {
		threshold := float64(total) / float64(n) * multiplier
		for _, ip := range ips.order {
			if float64(ips.counts[ip]) > threshold {
				out.add(ip)
			}
		}
	}
	for _, set := range flagged {
		for _, ip := range set.items {
			out.add(ip)
		}
	}
	return out.items
}

func hourly(hours map[int]int) []model.HourCount {
	keys := make([]int, 0, len(hours))
	for h := range hours {
		keys = append(keys, h)
	}
	sort.Ints(keys)
	out := make([]model.HourCount, 0, len(keys))
	for _, h := range keys {
		out = append(out, model.HourCount{Hour: fmt.Sprintf("%02d:00", h), Count: hours[h]})
	}
	return out
}

func daily(days map[string]int) []model.DateCount {
	keys := make([]string, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	out := make([]model.DateCount, 0, len(keys))
	for _, d := range keys {
		out = append(out, model.DateCount{Date: d, Count: days[d]})
	}
	return out
}

type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

// top returns the n largest counts; ties keep first-seen order.
func (c *counter) top(n int) []model.NamedCount {
	out := make([]model.NamedCount, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, model.NamedCount{Name: k, Count: c.counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: []string{}, seen: map[string]struct{}{}}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
