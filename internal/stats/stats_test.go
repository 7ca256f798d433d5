package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaylens/internal/model"
)

var base = time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)

func entry(ip, action, app string, offset time.Duration) model.ParsedLogEntry {
	return model.ParsedLogEntry{
		ID:        fmt.Sprintf("%s-%d", ip, offset),
		Timestamp: base.Add(offset),
		ClientIP:  ip,
		URL:       "example.com/" + app,
		Action:    action,
		AppName:   app,
	}
}

func TestComputeCounts(t *testing.T) {
	entries := []model.ParsedLogEntry{
		entry("10.0.0.1", "Allowed", "Teams", 0),
		entry("10.0.0.1", "Allowed", "Teams", time.Minute),
		entry("10.0.0.2", "Blocked", "Dropbox", 2*time.Hour),
		entry("10.0.0.3", "Allowed", "None", 3*time.Hour),
	}
	entries[3].URLCategory = "Webmail"
	entries[1].ThreatSeverity = "High"

	st := Compute(entries, DefaultOptions())
	assert.Equal(t, 4, st.TotalRequests)
	assert.Equal(t, 1, st.BlockedRequests)
	assert.Equal(t, 3, st.AllowedRequests)
	assert.Equal(t, 3, st.UniqueIPs)
	assert.Equal(t, 3, st.UniqueURLs)
	assert.Equal(t, 1, st.HighSeverityEvents)

	assert.Equal(t, []model.NamedCount{{Name: "Teams", Count: 2}, {Name: "Dropbox", Count: 1}}, st.TopApplications)
	assert.Equal(t, []model.NamedCount{{Name: "Unknown", Count: 3}, {Name: "Webmail", Count: 1}}, st.TopCategories)
	assert.Equal(t, model.IPCount{IP: "10.0.0.1", Count: 2}, st.TopSourceIPs[0])

	assert.Equal(t, []model.HourCount{{Hour: "00:00", Count: 1}, {Hour: "01:00", Count: 1}, {Hour: "22:00", Count: 2}}, st.HourlyBreakdown)
	assert.Equal(t, []model.DateCount{{Date: "2024-05-01", Count: 2}, {Date: "2024-05-02", Count: 2}}, st.DailyBreakdown)

	// blocked then high severity, no volume outlier in a batch this small
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.1"}, st.SuspiciousIPs)
}

func TestComputeHoursFollowLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Location = tokyo

	st := Compute([]model.ParsedLogEntry{entry("10.0.0.1", "Allowed", "Teams", 0)}, opts)
	assert.Equal(t, "07:00", st.HourlyBreakdown[0].Hour)
	// dates stay UTC
	assert.Equal(t, "2024-05-01", st.DailyBreakdown[0].Date)
}

func TestSuspiciousVolumeOutlier(t *testing.T) {
	var entries []model.ParsedLogEntry
	for i := 0; i < 9; i++ {
		entries = append(entries, entry(fmt.Sprintf("10.0.1.%d", i), "Allowed", "Teams", time.Duration(i)))
	}
	for i := 0; i < 40; i++ {
		entries = append(entries, entry("10.0.9.9", "Allowed", "Teams", time.Duration(100+i)))
	}
	// 49 requests over 10 IPs: mean 4.9, threshold 14.7
	st := Compute(entries, DefaultOptions())
	assert.Equal(t, []string{"10.0.9.9"}, st.SuspiciousIPs)
}

func TestTopNTruncatesAndKeepsFirstSeenOnTies(t *testing.T) {
	var entries []model.ParsedLogEntry
	for i := 0; i < 12; i++ {
		entries = append(entries, entry("10.0.0.1", "Allowed", fmt.Sprintf("app-%02d", i), time.Duration(i)))
	}
	st := Compute(entries, DefaultOptions())
	require.Len(t, st.TopApplications, 10)
	assert.Equal(t, "app-00", st.TopApplications[0].Name)
	assert.Equal(t, "app-09", st.TopApplications[9].Name)
}

func TestComputeEmpty(t *testing.T) {
	st := Compute(nil, Options{})
	assert.Zero(t, st.TotalRequests)
	assert.Empty(t, st.SuspiciousIPs)
	assert.NotNil(t, st.SuspiciousIPs)
	assert.Empty(t, st.HourlyBreakdown)
}

func TestCategoryFallbackOnlyForEmpty(t *testing.T) {
	placeholder := entry("10.0.0.1", "Allowed", "Teams", 0)
	placeholder.URLCategory, placeholder.AppClass = "None", "Business"
	empty := entry("10.0.0.2", "Allowed", "Teams", time.Minute)
	empty.AppClass = "Collaboration"

	assert.Equal(t, "None", Category(&placeholder))
	assert.Equal(t, "Collaboration", Category(&empty))

	st := Compute([]model.ParsedLogEntry{placeholder, empty}, DefaultOptions())
	assert.Equal(t, []model.NamedCount{{Name: "Collaboration", Count: 1}}, st.TopCategories)
}
