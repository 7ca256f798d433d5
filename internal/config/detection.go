package config

import "fmt"

const (
	DedupeFirst   = "first"
	DedupeHighest = "highest"
)

// DetectorConfig carries the knobs shared by every detector. Multiplier is
// used by ratio-to-mean detectors, Threshold by share or count detectors and
// Scale converts a share into a confidence.
type DetectorConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Multiplier    float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty" toml:"multiplier,omitempty"`
	Threshold     float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	Scale         float64 `json:"scale,omitempty" yaml:"scale,omitempty" toml:"scale,omitempty"`
	MinConfidence int     `json:"min_confidence" yaml:"min_confidence" toml:"min_confidence"`
	MaxConfidence int     `json:"max_confidence" yaml:"max_confidence" toml:"max_confidence"`
}

type UserAgentConfig struct {
	DetectorConfig `yaml:",inline"`
	Patterns       []string `json:"patterns" yaml:"patterns" toml:"patterns"`
	BaseConfidence int      `json:"base_confidence" yaml:"base_confidence" toml:"base_confidence"`
	Step           int      `json:"step" yaml:"step" toml:"step"`
	Jitter         bool     `json:"jitter" yaml:"jitter" toml:"jitter"`
	Seed           int64    `json:"seed" yaml:"seed" toml:"seed"`
}

type ResponseCodeConfig struct {
	DetectorConfig `yaml:",inline"`
	ClassPrefix    string `json:"class_prefix" yaml:"class_prefix" toml:"class_prefix"`
}

type FileAccessConfig struct {
	DetectorConfig `yaml:",inline"`
	Extensions     []string `json:"extensions" yaml:"extensions" toml:"extensions"`
	BaseConfidence int      `json:"base_confidence" yaml:"base_confidence" toml:"base_confidence"`
	Step           int      `json:"step" yaml:"step" toml:"step"`
}

type SSLDecryptionConfig struct {
	DetectorConfig `yaml:",inline"`
	DecryptedValue string `json:"decrypted_value" yaml:"decrypted_value" toml:"decrypted_value"`
}

type LegacyTLSConfig struct {
	DetectorConfig `yaml:",inline"`
	Versions       []string `json:"versions" yaml:"versions" toml:"versions"`
}

type IPBehaviorConfig struct {
	DetectorConfig   `yaml:",inline"`
	BlockRate        float64 `json:"block_rate" yaml:"block_rate" toml:"block_rate"`
	ThreatRate       float64 `json:"threat_rate" yaml:"threat_rate" toml:"threat_rate"`
	URLDiversity     float64 `json:"url_diversity" yaml:"url_diversity" toml:"url_diversity"`
	UADiversity      float64 `json:"ua_diversity" yaml:"ua_diversity" toml:"ua_diversity"`
	MinURLRequests   int     `json:"min_url_requests" yaml:"min_url_requests" toml:"min_url_requests"`
	MinUARequests    int     `json:"min_ua_requests" yaml:"min_ua_requests" toml:"min_ua_requests"`
	DiversityMaxConf int     `json:"diversity_max_confidence" yaml:"diversity_max_confidence" toml:"diversity_max_confidence"`
	UserAgentMaxConf int     `json:"ua_max_confidence" yaml:"ua_max_confidence" toml:"ua_max_confidence"`
}

type DetectionConfig struct {
	DedupeStrategy   string              `json:"dedupe_strategy" yaml:"dedupe_strategy" toml:"dedupe_strategy"`
	Parallel         bool                `json:"parallel" yaml:"parallel" toml:"parallel"`
	URLPatterns      DetectorConfig      `json:"url_patterns" yaml:"url_patterns" toml:"url_patterns"`
	UserAgent        UserAgentConfig     `json:"user_agent" yaml:"user_agent" toml:"user_agent"`
	Geographic       DetectorConfig      `json:"geographic" yaml:"geographic" toml:"geographic"`
	TimeHourly       DetectorConfig      `json:"time_hourly" yaml:"time_hourly" toml:"time_hourly"`
	TimeMinute       DetectorConfig      `json:"time_minute" yaml:"time_minute" toml:"time_minute"`
	ResponseCodes    ResponseCodeConfig  `json:"response_codes" yaml:"response_codes" toml:"response_codes"`
	FileAccess       FileAccessConfig    `json:"file_access" yaml:"file_access" toml:"file_access"`
	SSLDecryption    SSLDecryptionConfig `json:"ssl_decryption" yaml:"ssl_decryption" toml:"ssl_decryption"`
	SSLLegacyTLS     LegacyTLSConfig     `json:"ssl_legacy_tls" yaml:"ssl_legacy_tls" toml:"ssl_legacy_tls"`
	Bandwidth        DetectorConfig      `json:"bandwidth" yaml:"bandwidth" toml:"bandwidth"`
	RequestFrequency DetectorConfig      `json:"request_frequency" yaml:"request_frequency" toml:"request_frequency"`
	IPBehavior       IPBehaviorConfig    `json:"ip_behavior" yaml:"ip_behavior" toml:"ip_behavior"`
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		DedupeStrategy: DedupeFirst,
		Parallel:       true,
		URLPatterns:    DetectorConfig{Enabled: true, Multiplier: 2, MinConfidence: 60, MaxConfidence: 90},
		UserAgent: UserAgentConfig{
			DetectorConfig: DetectorConfig{Enabled: true, MinConfidence: 70, MaxConfidence: 95},
			Patterns: []string{
				"bot", "crawler", "spider", "scraper",
				"curl", "wget", "python", "java",
				"sqlmap", "nikto", "nmap", "metasploit",
			},
			BaseConfidence: 80,
			Step:           5,
		},
		Geographic: DetectorConfig{Enabled: true, Multiplier: 2, MinConfidence: 60, MaxConfidence: 85},
		TimeHourly: DetectorConfig{Enabled: true, Multiplier: 3, MinConfidence: 60, MaxConfidence: 90},
		TimeMinute: DetectorConfig{Enabled: true, Multiplier: 5, MinConfidence: 60, MaxConfidence: 85},
		ResponseCodes: ResponseCodeConfig{
			DetectorConfig: DetectorConfig{Enabled: true, Threshold: 0.1, Scale: 1000, MinConfidence: 60, MaxConfidence: 90},
			ClassPrefix:    "4",
		},
		FileAccess: FileAccessConfig{
			DetectorConfig: DetectorConfig{Enabled: true, Threshold: 3, MinConfidence: 70, MaxConfidence: 95},
			Extensions:     []string{"exe", "dll", "bat", "cmd", "ps1", "vbs", "js", "jar", "zip", "rar"},
			BaseConfidence: 70,
			Step:           5,
		},
		SSLDecryption: SSLDecryptionConfig{
			DetectorConfig: DetectorConfig{Enabled: true, Threshold: 0.8, Scale: 100, MinConfidence: 60, MaxConfidence: 85},
			DecryptedValue: "Yes",
		},
		SSLLegacyTLS: LegacyTLSConfig{
			DetectorConfig: DetectorConfig{Enabled: true, Threshold: 0.05, Scale: 1000, MinConfidence: 60, MaxConfidence: 90},
			Versions:       []string{"SSLv2", "SSLv3", "TLSv1.0", "TLSv1.1"},
		},
		Bandwidth: DetectorConfig{Enabled: true, Multiplier: 2, MinConfidence: 60, MaxConfidence: 90},
		// The per-IP frequency and behavior baselines flag ordinary application
		// traffic; they stay off unless explicitly enabled.
		RequestFrequency: DetectorConfig{Enabled: false, Multiplier: 3, MinConfidence: 60, MaxConfidence: 95},
		IPBehavior: IPBehaviorConfig{
			DetectorConfig:   DetectorConfig{Enabled: false, MinConfidence: 60, MaxConfidence: 95},
			BlockRate:        0.5,
			ThreatRate:       0.3,
			URLDiversity:     0.8,
			UADiversity:      0.7,
			MinURLRequests:   10,
			MinUARequests:    5,
			DiversityMaxConf: 85,
			UserAgentMaxConf: 80,
		},
	}
}

func (d DetectionConfig) Validate() error {
	switch d.DedupeStrategy {
	case DedupeFirst, DedupeHighest:
	default:
		return fmt.Errorf("detection.dedupe_strategy %q must be %q or %q", d.DedupeStrategy, DedupeFirst, DedupeHighest)
	}
	checks := map[string]DetectorConfig{
		"url_patterns":      d.URLPatterns,
		"user_agent":        d.UserAgent.DetectorConfig,
		"geographic":        d.Geographic,
		"time_hourly":       d.TimeHourly,
		"time_minute":       d.TimeMinute,
		"response_codes":    d.ResponseCodes.DetectorConfig,
		"file_access":       d.FileAccess.DetectorConfig,
		"ssl_decryption":    d.SSLDecryption.DetectorConfig,
		"ssl_legacy_tls":    d.SSLLegacyTLS.DetectorConfig,
		"bandwidth":         d.Bandwidth,
		"request_frequency": d.RequestFrequency,
		"ip_behavior":       d.IPBehavior.DetectorConfig,
	}
	for name, c := range checks {
		if c.MinConfidence < 0 || c.MaxConfidence > 100 || c.MinConfidence > c.MaxConfidence {
			return fmt.Errorf("detection.%s: confidence bounds [%d,%d] invalid", name, c.MinConfidence, c.MaxConfidence)
		}
		if c.Multiplier < 0 || c.Threshold < 0 || c.Scale < 0 {
			return fmt.Errorf("detection.%s: negative threshold", name)
		}
	}
	return nil
}
