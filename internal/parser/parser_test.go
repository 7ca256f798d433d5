package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaylens/internal/config"
)

// defaultLine builds a 33 column record laid out like the gateway export.
func defaultLine(ts, ip, url, action string) string {
	cols := make([]string, 33)
	for i := range cols {
		cols[i] = "None"
	}
	cols[0] = ts
	cols[1] = "alice@corp"
	cols[3] = url
	cols[4] = action
	cols[5] = "Salesforce"
	cols[6] = "Business"
	cols[7] = "42"
	cols[8] = "512"
	cols[9] = "-"
	cols[13] = "Professional Services"
	cols[20] = "Finance"
	cols[21] = ip
	cols[22] = "93.184.216.34"
	cols[23] = "GET"
	cols[24] = "200"
	cols[25] = `"Mozilla/5.0 (X11, Linux)"`
	return strings.Join(cols, ",")
}

func compactSchema() config.SchemaConfig {
	return config.SchemaConfig{
		Name:      "compact",
		Version:   1,
		MinFields: 20,
		Fields: map[string]int{
			config.FieldTimestamp: 0,
			config.FieldClientIP:  1,
			config.FieldURL:       2,
			config.FieldAction:    3,
		},
	}
}

func newParser(t *testing.T, schema config.SchemaConfig) *Parser {
	t.Helper()
	var n atomic.Int64
	p, err := New(schema, time.UTC, WithIDFunc(func() string {
		return fmt.Sprintf("e-%d", n.Add(1))
	}))
	require.NoError(t, err)
	return p
}

func TestSplitFieldsQuoteAware(t *testing.T) {
	got := SplitFields(`a, "b,c" ,d,,"e"`)
	assert.Equal(t, []string{"a", "b,c", "d", "", "e"}, got)
	assert.Equal(t, []string{""}, SplitFields(""))
}

func TestParseLineMinimalRecord(t *testing.T) {
	p := newParser(t, compactSchema())
	cols := make([]string, 21)
	cols[0] = "2024-03-01T10:00:00Z"
	cols[1] = "10.0.0.5"
	cols[2] = "example.com/a"
	entry, err := p.ParseLine(strings.Join(cols, ","))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", entry.ClientIP)
	assert.Equal(t, "example.com/a", entry.URL)
	assert.Equal(t, "e-1", entry.ID)
	assert.True(t, entry.Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestParseLineTooFewFields(t *testing.T) {
	p := newParser(t, compactSchema())
	line := strings.Repeat("x,", 14) + "x"
	_, err := p.ParseLine(line)
	require.ErrorIs(t, err, ErrTooFewFields)
	assert.False(t, p.ValidateFormat(line))
}

func TestParseLineDefaultSchema(t *testing.T) {
	p := newParser(t, config.DefaultSchema())
	entry, err := p.ParseLine(defaultLine(`"Mon Jun 10 14:03:22 2024"`, "10.1.1.1", "intranet.corp/hr", "Allowed"))
	require.NoError(t, err)

	assert.True(t, entry.Timestamp.Equal(time.Date(2024, 6, 10, 14, 3, 22, 0, time.UTC)), entry.Timestamp.String())
	assert.Equal(t, "alice@corp", entry.Login)
	assert.Equal(t, "Finance", entry.Department)
	assert.Equal(t, "intranet.corp/hr", entry.Host)
	assert.Equal(t, "Allowed", entry.Action)
	assert.Equal(t, "Allowed", entry.ThreatSeverity)
	assert.Equal(t, "Salesforce", entry.AppName)
	assert.Equal(t, "GET", entry.RequestMethod)
	assert.Equal(t, "Professional Services", entry.URLCategory)
	assert.Equal(t, "Mozilla/5.0 (X11, Linux)", entry.UserAgent)
	require.NotNil(t, entry.RiskScore)
	assert.Equal(t, 42, *entry.RiskScore)
	require.NotNil(t, entry.RequestSize)
	assert.EqualValues(t, 512, *entry.RequestSize)
	assert.Nil(t, entry.ResponseSize)
	assert.Nil(t, entry.TotalSize)
	assert.Empty(t, entry.SourceCountry)
}

func TestParseLineMappedTLSAndCountryColumns(t *testing.T) {
	def := config.DefaultSchema()
	for _, name := range []string{config.FieldSSLDecrypted, config.FieldClientTLSVersion, config.FieldSourceCountry} {
		assert.Equal(t, -1, def.Index(name), name)
	}

	schema := config.DefaultSchema()
	schema.Fields[config.FieldSourceCountry] = 29
	schema.Fields[config.FieldSSLDecrypted] = 30
	schema.Fields[config.FieldClientTLSVersion] = 31
	cols := make([]string, 33)
	cols[0], cols[3], cols[21] = "2024-06-10T14:03:22Z", "intranet.corp/hr", "10.1.1.1"
	cols[29], cols[30], cols[31] = "Germany", "Yes", "TLSv1.0"

	entry, err := newParser(t, schema).ParseLine(strings.Join(cols, ","))
	require.NoError(t, err)
	assert.Equal(t, "Germany", entry.SourceCountry)
	assert.Equal(t, "Yes", entry.SSLDecrypted)
	assert.Equal(t, "TLSv1.0", entry.ClientTLSVersion)
}

func TestParseLineRejects(t *testing.T) {
	p := newParser(t, config.DefaultSchema())

	_, err := p.ParseLine(defaultLine("yesterday-ish", "10.1.1.1", "a.com", "Allowed"))
	assert.ErrorIs(t, err, ErrBadTimestamp)

	_, err = p.ParseLine(defaultLine("2024-01-01 00:00:00", "", "a.com", "Allowed"))
	assert.ErrorIs(t, err, ErrMissingRequired)

	_, err = p.ParseLine(defaultLine("2024-01-01 00:00:00", "10.1.1.1", "", "Allowed"))
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestParseTimestampLayouts(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	cases := []string{
		"2024-06-10T14:03:22Z",
		"2024-06-10 14:03:22",
		"Mon Jun 10 14:03:22 2024",
		"06/10/2024 14:03:22",
		"1718028202",
		"1718028202000",
	}
	for _, in := range cases {
		_, err := ParseTimestamp(in, berlin)
		assert.NoError(t, err, in)
	}
	ts, err := ParseTimestamp("2024-06-10 14:03:22", berlin)
	require.NoError(t, err)
	assert.Equal(t, 12, ts.UTC().Hour())

	_, err = ParseTimestamp("", berlin)
	assert.Error(t, err)
}

func TestLeadingInt(t *testing.T) {
	for in, want := range map[string]*int64{
		"1500":       ptr(1500),
		"1500 bytes": ptr(1500),
		"-3":         ptr(-3),
		"None":       nil,
		"N/A":        nil,
		"NA":         nil,
		"-":          nil,
		"abc":        nil,
	} {
		got := parseInt64(in)
		if want == nil {
			assert.Nil(t, got, in)
			continue
		}
		require.NotNil(t, got, in)
		assert.Equal(t, *want, *got, in)
	}
}

func ptr(v int64) *int64 { return &v }

func TestValidateFormatSamplesFirstFive(t *testing.T) {
	p := newParser(t, config.DefaultSchema())
	good := defaultLine("2024-01-01 00:00:00", "10.0.0.1", "a.com", "Allowed")
	short := "a,b,c"

	assert.False(t, p.ValidateFormat(""))
	assert.False(t, p.ValidateFormat("\n  \n"))
	assert.True(t, p.ValidateFormat(strings.Repeat(good+"\n", 5)))
	assert.False(t, p.ValidateFormat(good+"\n\n"+short+"\n"+good))

	// the sixth non-blank line is never sampled
	content := strings.Repeat(good+"\n", 5) + short
	assert.True(t, p.ValidateFormat(content))
}

func TestParseAllKeepsOrderAndCounts(t *testing.T) {
	var progressed atomic.Int64
	p, err := New(config.DefaultSchema(), time.UTC, WithProgress(func(n int) { progressed.Add(int64(n)) }))
	require.NoError(t, err)

	var lines []string
	for i := 0; i < 3000; i++ {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		switch {
		case i%100 == 0:
			lines = append(lines, "broken,line")
		case i%250 == 1:
			lines = append(lines, defaultLine(ts, "", "a.com", "Allowed"))
		default:
			lines = append(lines, defaultLine(ts, fmt.Sprintf("10.0.%d.%d", i/256, i%256), "a.com", "Allowed"))
		}
	}

	entries, report, err := p.ParseAll(context.Background(), lines, 4)
	require.NoError(t, err)
	assert.Equal(t, 3000, report.Lines)
	assert.Equal(t, 30, report.RejectReasons["too_few_fields"])
	assert.Equal(t, 12, report.RejectReasons["missing_required"])
	assert.Equal(t, report.Lines-report.Rejected, report.Parsed)
	assert.Len(t, entries, report.Parsed)
	assert.EqualValues(t, 3000, progressed.Load())
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i-1].Timestamp.Before(entries[i].Timestamp), "order broken at %d", i)
	}

	sequential, _, err := p.ParseAll(context.Background(), lines, 1)
	require.NoError(t, err)
	require.Len(t, sequential, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].ClientIP, sequential[i].ClientIP)
	}
}

func TestParseAllCanceled(t *testing.T) {
	p := newParser(t, config.DefaultSchema())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lines := []string{defaultLine("2024-01-01 00:00:00", "10.0.0.1", "a.com", "Allowed")}
	_, _, err := p.ParseAll(ctx, lines, 2)
	require.True(t, errors.Is(err, context.Canceled))
}
