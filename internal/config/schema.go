package config

import (
	"fmt"
	"sort"
)

// Field names understood by the positional parser.
const (
	FieldTimestamp          = "timestamp"
	FieldLogin              = "login"
	FieldDepartment         = "department"
	FieldCompany            = "company"
	FieldLocation           = "location"
	FieldClientIP           = "client_ip"
	FieldServerIP           = "server_ip"
	FieldURL                = "url"
	FieldHost               = "host"
	FieldRequestMethod      = "request_method"
	FieldResponseCode       = "response_code"
	FieldUserAgent          = "user_agent"
	FieldReferer            = "referer"
	FieldContentType        = "content_type"
	FieldAction             = "action"
	FieldReason             = "reason"
	FieldRuleType           = "rule_type"
	FieldRuleLabel          = "rule_label"
	FieldThreatName         = "threat_name"
	FieldThreatSeverity     = "threat_severity"
	FieldRiskScore          = "risk_score"
	FieldMalwareCategory    = "malware_category"
	FieldMalwareClass       = "malware_class"
	FieldURLCategory        = "url_category"
	FieldURLSuperCategory   = "url_super_category"
	FieldURLClass           = "url_class"
	FieldAppName            = "app_name"
	FieldAppClass           = "app_class"
	FieldAppRiskScore       = "app_risk_score"
	FieldFileName           = "file_name"
	FieldFileType           = "file_type"
	FieldFileClass          = "file_class"
	FieldSSLDecrypted       = "ssl_decrypted"
	FieldClientTLSVersion   = "client_tls_version"
	FieldServerTLSVersion   = "server_tls_version"
	FieldRequestSize        = "request_size"
	FieldResponseSize       = "response_size"
	FieldTotalSize          = "total_size"
	FieldSourceCountry      = "source_country"
	FieldDestinationCountry = "destination_country"
	FieldDeviceHostname     = "device_hostname"
	FieldDeviceType         = "device_type"
	FieldDeviceOSType       = "device_os_type"
	FieldDLPDictionary      = "dlp_dictionary"
	FieldDLPEngine          = "dlp_engine"
	FieldDLPRuleName        = "dlp_rule_name"
)

var knownFields = map[string]struct{}{
	FieldTimestamp: {}, FieldLogin: {}, FieldDepartment: {}, FieldCompany: {}, FieldLocation: {},
	FieldClientIP: {}, FieldServerIP: {}, FieldURL: {}, FieldHost: {}, FieldRequestMethod: {},
	FieldResponseCode: {}, FieldUserAgent: {}, FieldReferer: {}, FieldContentType: {},
	FieldAction: {}, FieldReason: {}, FieldRuleType: {}, FieldRuleLabel: {},
	FieldThreatName: {}, FieldThreatSeverity: {}, FieldRiskScore: {}, FieldMalwareCategory: {},
	FieldMalwareClass: {}, FieldURLCategory: {}, FieldURLSuperCategory: {}, FieldURLClass: {},
	FieldAppName: {}, FieldAppClass: {}, FieldAppRiskScore: {},
	FieldFileName: {}, FieldFileType: {}, FieldFileClass: {},
	FieldSSLDecrypted: {}, FieldClientTLSVersion: {}, FieldServerTLSVersion: {},
	FieldRequestSize: {}, FieldResponseSize: {}, FieldTotalSize: {},
	FieldSourceCountry: {}, FieldDestinationCountry: {},
	FieldDeviceHostname: {}, FieldDeviceType: {}, FieldDeviceOSType: {},
	FieldDLPDictionary: {}, FieldDLPEngine: {}, FieldDLPRuleName: {},
}

// SchemaConfig maps semantic field names to column positions for one log
// family. A negative index marks a field the family does not carry.
type SchemaConfig struct {
	Name      string         `json:"name" yaml:"name" toml:"name"`
	Version   int            `json:"version" yaml:"version" toml:"version"`
	MinFields int            `json:"min_fields" yaml:"min_fields" toml:"min_fields"`
	Fields    map[string]int `json:"fields" yaml:"fields" toml:"fields"`
}

// DefaultSchema is the column layout of the gateway's custom CSV export.
func DefaultSchema() SchemaConfig {
	return SchemaConfig{
		Name:      "zscaler-custom",
		Version:   1,
		MinFields: 20,
		Fields: map[string]int{
			FieldTimestamp:        0,
			FieldLogin:            1,
			FieldCompany:          1,
			FieldLocation:         1,
			FieldURL:              3,
			FieldHost:             3,
			FieldAction:           4,
			FieldThreatSeverity:   4,
			FieldThreatName:       5,
			FieldAppName:          5,
			FieldAppClass:         6,
			FieldMalwareCategory:  6,
			FieldMalwareClass:     6,
			FieldRiskScore:        7,
			FieldAppRiskScore:     7,
			FieldRequestSize:      8,
			FieldResponseSize:     9,
			FieldTotalSize:        10,
			FieldReason:           11,
			FieldURLClass:         11,
			FieldURLSuperCategory: 12,
			FieldURLCategory:      13,
			FieldDepartment:       20,
			FieldClientIP:         21,
			FieldServerIP:         22,
			FieldRequestMethod:    23,
			FieldResponseCode:     24,
			FieldUserAgent:        25,
			FieldReferer:          25,
			FieldRuleType:         27,
			FieldRuleLabel:        28,
			FieldContentType:      32,
		},
	}
}

// Index returns the column for name, or -1 when the schema does not map it.
func (s SchemaConfig) Index(name string) int {
	if idx, ok := s.Fields[name]; ok {
		return idx
	}
	return -1
}

func (s SchemaConfig) Validate() error {
	if s.MinFields <= 0 {
		return fmt.Errorf("schema.min_fields must be > 0")
	}
	for _, required := range []string{FieldTimestamp, FieldClientIP, FieldURL} {
		if s.Index(required) < 0 {
			return fmt.Errorf("schema %s v%d: field %q must be mapped", s.Name, s.Version, required)
		}
	}
	var unknown []string
	for name, idx := range s.Fields {
		if _, ok := knownFields[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		if idx < -1 {
			return fmt.Errorf("schema field %q has invalid index %d", name, idx)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("schema %s v%d: unknown fields %v", s.Name, s.Version, unknown)
	}
	return nil
}
