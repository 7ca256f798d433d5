package model

import "time"

type EventType string

const (
	EventLogEntry      EventType = "log_entry"
	EventEventCluster  EventType = "event_cluster"
	EventIPCluster     EventType = "ip_cluster"
	EventDailySummary  EventType = "daily_summary"
	EventHourlySummary EventType = "hourly_summary"
)

type TimelineEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details"`
	Severity   Severity       `json:"severity"`
	Expandable bool           `json:"isExpandable"`
}

type EventBreakdown struct {
	Blocked   int `json:"blocked"`
	Allowed   int `json:"allowed"`
	Anomalies int `json:"anomalies"`
}

type TimelineSummary struct {
	TotalEvents    int            `json:"totalEvents"`
	EventBreakdown EventBreakdown `json:"eventBreakdown"`
}
