package model

import (
	"strings"
	"time"
)

// ParsedLogEntry is one normalized proxy log record. Optional fields are empty
// (or nil for numbers) when the source column was missing or unparseable.
type ParsedLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Login      string `json:"login,omitempty"`
	Department string `json:"department,omitempty"`
	Company    string `json:"company,omitempty"`
	Location   string `json:"location,omitempty"`

	ClientIP string `json:"clientIP,omitempty"`
	ServerIP string `json:"serverIP,omitempty"`

	URL           string `json:"url,omitempty"`
	Host          string `json:"host,omitempty"`
	RequestMethod string `json:"requestMethod,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	Referer       string `json:"referer,omitempty"`
	ContentType   string `json:"contentType,omitempty"`

	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RuleType  string `json:"ruleType,omitempty"`
	RuleLabel string `json:"ruleLabel,omitempty"`

	ThreatName      string `json:"threatName,omitempty"`
	ThreatSeverity  string `json:"threatSeverity,omitempty"`
	RiskScore       *int   `json:"riskScore,omitempty"`
	MalwareCategory string `json:"malwareCategory,omitempty"`
	MalwareClass    string `json:"malwareClass,omitempty"`

	URLCategory      string `json:"urlCategory,omitempty"`
	URLSuperCategory string `json:"urlSuperCategory,omitempty"`
	URLClass         string `json:"urlClass,omitempty"`

	AppName      string `json:"appName,omitempty"`
	AppClass     string `json:"appClass,omitempty"`
	AppRiskScore string `json:"appRiskScore,omitempty"`

	FileName  string `json:"fileName,omitempty"`
	FileType  string `json:"fileType,omitempty"`
	FileClass string `json:"fileClass,omitempty"`

	SSLDecrypted     string `json:"sslDecrypted,omitempty"`
	ClientTLSVersion string `json:"clientTLSVersion,omitempty"`
	ServerTLSVersion string `json:"serverTLSVersion,omitempty"`

	RequestSize  *int64 `json:"requestSize,omitempty"`
	ResponseSize *int64 `json:"responseSize,omitempty"`
	TotalSize    *int64 `json:"totalSize,omitempty"`

	SourceCountry      string `json:"sourceIPCountry,omitempty"`
	DestinationCountry string `json:"destinationIPCountry,omitempty"`

	DeviceHostname string `json:"deviceHostname,omitempty"`
	DeviceType     string `json:"deviceType,omitempty"`
	DeviceOSType   string `json:"deviceOSType,omitempty"`

	DLPDictionary string `json:"dlpDictionary,omitempty"`
	DLPEngine     string `json:"dlpEngine,omitempty"`
	DLPRuleName   string `json:"dlpRuleName,omitempty"`
}

// ApplicationName is the app name, falling back to the threat name column
// which carries the application in the gateway's custom export.
func (e *ParsedLogEntry) ApplicationName() string {
	if e.AppName != "" {
		return e.AppName
	}
	return e.ThreatName
}

// Bytes returns request plus response size, treating absent sizes as zero.
func (e *ParsedLogEntry) Bytes() int64 {
	var n int64
	if e.RequestSize != nil {
		n += *e.RequestSize
	}
	if e.ResponseSize != nil {
		n += *e.ResponseSize
	}
	return n
}

func (e *ParsedLogEntry) Blocked() bool {
	return strings.Contains(strings.ToLower(e.Action), "block")
}

func (e *ParsedLogEntry) Allowed() bool {
	return strings.Contains(strings.ToLower(e.Action), "allow")
}

// HighSeverity reports a threat severity of high or critical.
func (e *ParsedLogEntry) HighSeverity() bool {
	sev := strings.ToLower(e.ThreatSeverity)
	return strings.Contains(sev, "high") || strings.Contains(sev, "critical")
}

type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// AnalysisResult is the value produced once per batch. It is never mutated
// after construction.
type AnalysisResult struct {
	TotalRequests      int             `json:"totalRequests"`
	BlockedRequests    int             `json:"blockedRequests"`
	AllowedRequests    int             `json:"allowedRequests"`
	UniqueIPs          int             `json:"uniqueIPs"`
	UniqueURLs         int             `json:"uniqueURLs"`
	TopApplications    []NamedCount    `json:"topThreats"`
	TopCategories      []NamedCount    `json:"topCategories"`
	TopSourceIPs       []IPCount       `json:"topSourceIPs"`
	HourlyBreakdown    []HourCount     `json:"hourlyBreakdown"`
	DailyBreakdown     []DateCount     `json:"dailyBreakdown"`
	SuspiciousIPs      []string        `json:"suspiciousIPs"`
	HighSeverityEvents int             `json:"highSeverityEvents"`
	Anomalies          []Anomaly       `json:"anomalies"`
	TimelineEvents     []TimelineEvent `json:"timelineEvents"`
	TimelineSummary    TimelineSummary `json:"timelineSummary"`
	KeyInsights        []string        `json:"keyInsights"`
}

// IsPlaceholder reports whether v is one of the gateway's "no value" markers.
func IsPlaceholder(v string) bool {
	switch v {
	case "", "None", "N/A":
		return true
	}
	return false
}
