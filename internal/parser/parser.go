package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

var (
	ErrTooFewFields    = errors.New("too few fields")
	ErrBadTimestamp    = errors.New("unparseable timestamp")
	ErrMissingRequired = errors.New("client ip or url missing")
)

// sampleLines is how many leading non-blank lines ValidateFormat inspects.
const sampleLines = 5

// checkEvery is how often ParseAll workers look at ctx and report progress.
const checkEvery = 1024

type IDFunc func() string

type Option func(*Parser)

// WithIDFunc replaces the random entry id source.
func WithIDFunc(fn IDFunc) Option {
	return func(p *Parser) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithProgress installs a callback receiving the number of lines handled
// since the previous call. It may be invoked from several goroutines.
func WithProgress(fn func(n int)) Option {
	return func(p *Parser) { p.progress = fn }
}

type setter func(e *model.ParsedLogEntry, v string)

type column struct {
	index int
	set   setter
}

// Parser maps positional CSV records onto ParsedLogEntry using a schema.
// It holds no mutable state and is safe for concurrent use.
type Parser struct {
	schema    config.SchemaConfig
	loc       *time.Location
	tsIndex   int
	columns   []column
	newID     IDFunc
	progress  func(int)
	minFields int
}

func New(schema config.SchemaConfig, loc *time.Location, opts ...Option) (*Parser, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	p := &Parser{
		schema:    schema,
		loc:       loc,
		tsIndex:   schema.Index(config.FieldTimestamp),
		newID:     uuid.NewString,
		minFields: schema.MinFields,
	}
	for name, idx := range schema.Fields {
		if idx < 0 || name == config.FieldTimestamp {
			continue
		}
		set, ok := setters[name]
		if !ok {
			continue
		}
		p.columns = append(p.columns, column{index: idx, set: set})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Parser) Schema() config.SchemaConfig {
	return p.schema
}

// SplitFields splits a comma-delimited line. A double quote toggles the
// quoted state and is dropped; commas inside quotes do not split. Fields are
// trimmed.
func SplitFields(line string) []string {
	fields := make([]string, 0, 40)
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

func (p *Parser) ParseLine(line string) (model.ParsedLogEntry, error) {
	fields := SplitFields(strings.TrimRight(line, "\r"))
	if len(fields) < p.minFields {
		return model.ParsedLogEntry{}, fmt.Errorf("%w: %d < %d", ErrTooFewFields, len(fields), p.minFields)
	}
	if p.tsIndex >= len(fields) {
		return model.ParsedLogEntry{}, fmt.Errorf("%w: column %d missing", ErrBadTimestamp, p.tsIndex)
	}
	ts, err := ParseTimestamp(fields[p.tsIndex], p.loc)
	if err != nil {
		return model.ParsedLogEntry{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	entry := model.ParsedLogEntry{Timestamp: ts}
	for _, col := range p.columns {
		if col.index >= len(fields) {
			continue
		}
		if v := fields[col.index]; v != "" {
			col.set(&entry, v)
		}
	}
	if entry.ClientIP == "" || entry.URL == "" {
		return model.ParsedLogEntry{}, ErrMissingRequired
	}
	entry.ID = p.newID()
	return entry, nil
}

// NonBlankLines splits content on newlines and drops blank lines.
func NonBlankLines(content string) []string {
	raw := strings.Split(content, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ValidateFormat is a cheap pre-check before committing to a full parse.
func (p *Parser) ValidateFormat(content string) bool {
	return p.ValidateLines(NonBlankLines(content))
}

// ValidateLines reports whether the first few non-blank lines all carry at
// least the schema's minimum column count.
func (p *Parser) ValidateLines(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	n := min(sampleLines, len(lines))
	for _, line := range lines[:n] {
		if len(SplitFields(line)) < p.minFields {
			return false
		}
	}
	return true
}

type Report struct {
	Lines         int            `json:"lines"`
	Parsed        int            `json:"parsed"`
	Rejected      int            `json:"rejected"`
	RejectReasons map[string]int `json:"reject_reasons,omitempty"`
}

// ParseAll parses lines on a bounded set of workers. Output order follows
// input order; rejected lines are counted in the report and skipped.
func (p *Parser) ParseAll(ctx context.Context, lines []string, workers int) ([]model.ParsedLogEntry, Report, error) {
	report := Report{Lines: len(lines), RejectReasons: map[string]int{}}
	if len(lines) == 0 {
		return nil, report, ctx.Err()
	}
	if workers <= 0 {
		workers = 1
	}
	type slot struct {
		entry model.ParsedLogEntry
		err   error
	}
	slots := make([]slot, len(lines))
	chunk := (len(lines) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(lines); start += chunk {
		end := min(start+chunk, len(lines))
		g.Go(func() error {
			done := 0
			for i := start; i < end; i++ {
				if done == checkEvery {
					if err := gctx.Err(); err != nil {
						return err
					}
					p.report(done)
					done = 0
				}
				slots[i].entry, slots[i].err = p.ParseLine(lines[i])
				done++
			}
			p.report(done)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	entries := make([]model.ParsedLogEntry, 0, len(lines))
	for _, s := range slots {
		if s.err != nil {
			report.Rejected++
			report.RejectReasons[rejectReason(s.err)]++
			continue
		}
		entries = append(entries, s.entry)
	}
	report.Parsed = len(entries)
	return entries, report, nil
}

func (p *Parser) report(n int) {
	if p.progress != nil && n > 0 {
		p.progress(n)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTooFewFields):
		return "too_few_fields"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrMissingRequired):
		return "missing_required"
	}
	return "other"
}
