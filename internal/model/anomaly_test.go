package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityForConfidence(t *testing.T) {
	tests := []struct {
		confidence int
		want       Severity
	}{
		{0, SeverityLow},
		{69, SeverityLow},
		{70, SeverityMedium},
		{79, SeverityMedium},
		{80, SeverityHigh},
		{89, SeverityHigh},
		{90, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForConfidence(tt.confidence), "confidence %d", tt.confidence)
	}
}

func TestAnomalyDedupeKey(t *testing.T) {
	a := Anomaly{Type: AnomalyBandwidth, ClientIP: "10.0.0.1", URL: "example.com"}
	assert.Equal(t, "unusual_bandwidth_usage_10.0.0.1", a.DedupeKey())

	b := Anomaly{Type: AnomalyURLPatterns, URL: "example.com/a"}
	assert.Equal(t, "unusual_url_patterns_example.com/a", b.DedupeKey())

	c := Anomaly{Type: AnomalyTimePatterns}
	assert.Equal(t, "unusual_time_patterns_unknown", c.DedupeKey())
}

func TestEntryBytesAndApplication(t *testing.T) {
	req, resp := int64(100), int64(250)
	e := ParsedLogEntry{RequestSize: &req, ResponseSize: &resp, ThreatName: "Office 365"}
	assert.Equal(t, int64(350), e.Bytes())
	assert.Equal(t, "Office 365", e.ApplicationName())

	e.AppName = "Teams"
	assert.Equal(t, "Teams", e.ApplicationName())
	assert.Equal(t, int64(0), (&ParsedLogEntry{}).Bytes())
}

func TestEntryActionAndSeverityPredicates(t *testing.T) {
	e := ParsedLogEntry{Action: "BLOCKED", ThreatSeverity: "Critical (90)"}
	assert.True(t, e.Blocked())
	assert.False(t, e.Allowed())
	assert.True(t, e.HighSeverity())

	e = ParsedLogEntry{Action: "Allowed", ThreatSeverity: "Medium"}
	assert.False(t, e.Blocked())
	assert.True(t, e.Allowed())
	assert.False(t, e.HighSeverity())

	assert.True(t, IsPlaceholder("None"))
	assert.True(t, IsPlaceholder(""))
	assert.False(t, IsPlaceholder("none"))
}
