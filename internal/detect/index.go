package detect

import (
	"strings"
	"time"

	"gatewaylens/internal/model"
)

// Grouping holds entry positions per key, keys in first-seen order.
type Grouping struct {
	Keys      []string
	Positions map[string][]int
}

func newGrouping() *Grouping {
	return &Grouping{Positions: map[string][]int{}}
}

func (g *Grouping) add(key string, pos int) {
	if _, ok := g.Positions[key]; !ok {
		g.Keys = append(g.Keys, key)
	}
	g.Positions[key] = append(g.Positions[key], pos)
}

// Index is built once per batch so detectors never rescan the entry list to
// find related entries. It is read-only after construction.
type Index struct {
	Entries  []model.ParsedLogEntry
	Location *time.Location

	ByIP      *Grouping
	ByURL     *Grouping
	ByCode    *Grouping
	ByCountry *Grouping
	ByHour    [24][]int
	ByMinute  [60][]int

	// IPCountry maps each client IP to the last source country seen for it.
	IPCountry      map[string]string
	IPCountryOrder []string

	// Ext is the lower-cased URL path extension per entry, empty when none.
	Ext []string
}

func NewIndex(entries []model.ParsedLogEntry, loc *time.Location) *Index {
	if loc == nil {
		loc = time.UTC
	}
	idx := &Index{
		Entries:   entries,
		Location:  loc,
		ByIP:      newGrouping(),
		ByURL:     newGrouping(),
		ByCode:    newGrouping(),
		ByCountry: newGrouping(),
		IPCountry: map[string]string{},
		Ext:       make([]string, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		if e.ClientIP != "" {
			idx.ByIP.add(e.ClientIP, i)
		}
		if e.URL != "" {
			idx.ByURL.add(e.URL, i)
			idx.Ext[i] = urlExtension(e.URL)
		}
		if e.ResponseCode != "" {
			idx.ByCode.add(e.ResponseCode, i)
		}
		if e.SourceCountry != "" {
			idx.ByCountry.add(e.SourceCountry, i)
			if e.ClientIP != "" {
				if _, ok := idx.IPCountry[e.ClientIP]; !ok {
					idx.IPCountryOrder = append(idx.IPCountryOrder, e.ClientIP)
				}
				idx.IPCountry[e.ClientIP] = e.SourceCountry
			}
		}
		local := e.Timestamp.In(loc)
		idx.ByHour[local.Hour()] = append(idx.ByHour[local.Hour()], i)
		idx.ByMinute[local.Minute()] = append(idx.ByMinute[local.Minute()], i)
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.Entries)
}

// Last returns the timestamp of the last position in entry order. Batches
// reach the detector sorted by time, so this is the latest evidence.
func (idx *Index) Last(positions []int) time.Time {
	if len(positions) == 0 {
		return time.Time{}
	}
	return idx.Entries[positions[len(positions)-1]].Timestamp
}

func (idx *Index) First(positions []int) time.Time {
	if len(positions) == 0 {
		return time.Time{}
	}
	return idx.Entries[positions[0]].Timestamp
}

// Related returns the ids of the first MaxRelatedEntries positions.
func (idx *Index) Related(positions []int) []string {
	n := min(len(positions), model.MaxRelatedEntries)
	ids := make([]string, 0, n)
	for _, p := range positions[:n] {
		ids = append(ids, idx.Entries[p].ID)
	}
	return ids
}

// Filter returns the positions whose entry satisfies keep, in entry order.
func (idx *Index) Filter(keep func(e *model.ParsedLogEntry) bool) []int {
	var out []int
	for i := range idx.Entries {
		if keep(&idx.Entries[i]) {
			out = append(out, i)
		}
	}
	return out
}

// urlExtension resolves the path of a possibly scheme-less URL and returns
// the text after its last dot.
func urlExtension(raw string) string {
	u := raw
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.IndexByte(u, '/'); j >= 0 {
			u = u[j:]
		} else {
			u = "/"
		}
	}
	dot := strings.LastIndexByte(u, '.')
	if dot < 0 {
		return ""
	}
	return strings.ToLower(u[dot+1:])
}
