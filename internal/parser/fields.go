package parser

import (
	"strconv"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

var setters = map[string]setter{
	config.FieldLogin:              func(e *model.ParsedLogEntry, v string) { e.Login = v },
	config.FieldDepartment:         func(e *model.ParsedLogEntry, v string) { e.Department = v },
	config.FieldCompany:            func(e *model.ParsedLogEntry, v string) { e.Company = v },
	config.FieldLocation:           func(e *model.ParsedLogEntry, v string) { e.Location = v },
	config.FieldClientIP:           func(e *model.ParsedLogEntry, v string) { e.ClientIP = v },
	config.FieldServerIP:           func(e *model.ParsedLogEntry, v string) { e.ServerIP = v },
	config.FieldURL:                func(e *model.ParsedLogEntry, v string) { e.URL = v },
	config.FieldHost:               func(e *model.ParsedLogEntry, v string) { e.Host = v },
	config.FieldRequestMethod:      func(e *model.ParsedLogEntry, v string) { e.RequestMethod = v },
	config.FieldResponseCode:       func(e *model.ParsedLogEntry, v string) { e.ResponseCode = v },
	config.FieldUserAgent:          func(e *model.ParsedLogEntry, v string) { e.UserAgent = v },
	config.FieldReferer:            func(e *model.ParsedLogEntry, v string) { e.Referer = v },
	config.FieldContentType:        func(e *model.ParsedLogEntry, v string) { e.ContentType = v },
	config.FieldAction:             func(e *model.ParsedLogEntry, v string) { e.Action = v },
	config.FieldReason:             func(e *model.ParsedLogEntry, v string) { e.Reason = v },
	config.FieldRuleType:           func(e *model.ParsedLogEntry, v string) { e.RuleType = v },
	config.FieldRuleLabel:          func(e *model.ParsedLogEntry, v string) { e.RuleLabel = v },
	config.FieldThreatName:         func(e *model.ParsedLogEntry, v string) { e.ThreatName = v },
	config.FieldThreatSeverity:     func(e *model.ParsedLogEntry, v string) { e.ThreatSeverity = v },
	config.FieldRiskScore:          func(e *model.ParsedLogEntry, v string) { e.RiskScore = parseInt(v) },
	config.FieldMalwareCategory:    func(e *model.ParsedLogEntry, v string) { e.MalwareCategory = v },
	config.FieldMalwareClass:       func(e *model.ParsedLogEntry, v string) { e.MalwareClass = v },
	config.FieldURLCategory:        func(e *model.ParsedLogEntry, v string) { e.URLCategory = v },
	config.FieldURLSuperCategory:   func(e *model.ParsedLogEntry, v string) { e.URLSuperCategory = v },
	config.FieldURLClass:           func(e *model.ParsedLogEntry, v string) { e.URLClass = v },
	config.FieldAppName:            func(e *model.ParsedLogEntry, v string) { e.AppName = v },
	config.FieldAppClass:           func(e *model.ParsedLogEntry, v string) { e.AppClass = v },
	config.FieldAppRiskScore:       func(e *model.ParsedLogEntry, v string) { e.AppRiskScore = v },
	config.FieldFileName:           func(e *model.ParsedLogEntry, v string) { e.FileName = v },
	config.FieldFileType:           func(e *model.ParsedLogEntry, v string) { e.FileType = v },
	config.FieldFileClass:          func(e *model.ParsedLogEntry, v string) { e.FileClass = v },
	config.FieldSSLDecrypted:       func(e *model.ParsedLogEntry, v string) { e.SSLDecrypted = v },
	config.FieldClientTLSVersion:   func(e *model.ParsedLogEntry, v string) { e.ClientTLSVersion = v },
	config.FieldServerTLSVersion:   func(e *model.ParsedLogEntry, v string) { e.ServerTLSVersion = v },
	config.FieldRequestSize:        func(e *model.ParsedLogEntry, v string) { e.RequestSize = parseInt64(v) },
	config.FieldResponseSize:       func(e *model.ParsedLogEntry, v string) { e.ResponseSize = parseInt64(v) },
	config.FieldTotalSize:          func(e *model.ParsedLogEntry, v string) { e.TotalSize = parseInt64(v) },
	config.FieldSourceCountry:      func(e *model.ParsedLogEntry, v string) { e.SourceCountry = v },
	config.FieldDestinationCountry: func(e *model.ParsedLogEntry, v string) { e.DestinationCountry = v },
	config.FieldDeviceHostname:     func(e *model.ParsedLogEntry, v string) { e.DeviceHostname = v },
	config.FieldDeviceType:         func(e *model.ParsedLogEntry, v string) { e.DeviceType = v },
	config.FieldDeviceOSType:       func(e *model.ParsedLogEntry, v string) { e.DeviceOSType = v },
	config.FieldDLPDictionary:      func(e *model.ParsedLogEntry, v string) { e.DLPDictionary = v },
	config.FieldDLPEngine:          func(e *model.ParsedLogEntry, v string) { e.DLPEngine = v },
	config.FieldDLPRuleName:        func(e *model.ParsedLogEntry, v string) { e.DLPRuleName = v },
}

// leadingInt reads an optional sign and the run of digits that follows,
// ignoring anything after it ("1500 bytes" is 1500). Placeholder markers and
// values without leading digits are absent.
func leadingInt(v string) (int64, bool) {
	switch v {
	case "", "-", "None", "N/A", "NA":
		return 0, false
	}
	end := 0
	if v[0] == '-' || v[0] == '+' {
		end = 1
	}
	digits := end
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(v[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseInt(v string) *int {
	n, ok := leadingInt(v)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

func parseInt64(v string) *int64 {
	n, ok := leadingInt(v)
	if !ok {
		return nil
	}
	return &n
}
