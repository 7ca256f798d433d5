package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AnomalyType string

const (
	AnomalyRequestFrequency AnomalyType = "unusual_request_frequency"
	AnomalyIPBehavior       AnomalyType = "unusual_ip_behavior"
	AnomalyURLPatterns      AnomalyType = "unusual_url_patterns"
	AnomalyUserAgent        AnomalyType = "unusual_user_agent"
	AnomalyGeographic       AnomalyType = "unusual_geographic_access"
	AnomalyTimePatterns     AnomalyType = "unusual_time_patterns"
	AnomalyResponseCodes    AnomalyType = "unusual_response_codes"
	AnomalyFileAccess       AnomalyType = "unusual_file_access"
	AnomalySSLBehavior      AnomalyType = "unusual_ssl_behavior"
	AnomalyBandwidth        AnomalyType = "unusual_bandwidth_usage"
)

// MaxRelatedEntries bounds Anomaly.RelatedEntries.
const MaxRelatedEntries = 10

type Anomaly struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	ClientIP       string         `json:"clientIP,omitempty"`
	URL            string         `json:"url,omitempty"`
	Type           AnomalyType    `json:"anomalyType"`
	Confidence     int            `json:"confidence"`
	Explanation    string         `json:"explanation"`
	Severity       Severity       `json:"severity"`
	Details        map[string]any `json:"details"`
	RelatedEntries []string       `json:"relatedEntries"`
}

// DedupeKey identifies anomalies that describe the same subject.
func (a *Anomaly) DedupeKey() string {
	subject := a.ClientIP
	if subject == "" {
		subject = a.URL
	}
	if subject == "" {
		subject = "unknown"
	}
	return string(a.Type) + "_" + subject
}

// SeverityForConfidence is the only way an anomaly severity is derived.
func SeverityForConfidence(confidence int) Severity {
	switch {
	case confidence >= 90:
		return SeverityCritical
	case confidence >= 80:
		return SeverityHigh
	case confidence >= 70:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
