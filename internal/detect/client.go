package detect

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

// userAgents flags every entry whose user agent names a scripted client or a
// scanner. Confidence grows with the number of matched patterns unless the
// seeded jitter mode is on.
func userAgents(c config.UserAgentConfig) detectFunc {
	patterns := make([]string, 0, len(c.Patterns))
	for _, p := range c.Patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return func(idx *Index) []model.Anomaly {
		var rng *rand.Rand
		if c.Jitter {
			rng = rand.New(rand.NewPCG(uint64(c.Seed), 0))
		}
		var out []model.Anomaly
		for i := range idx.Entries {
			e := &idx.Entries[i]
			if e.UserAgent == "" {
				continue
			}
			ua := strings.ToLower(e.UserAgent)
			var matched []string
			for _, p := range patterns {
				if strings.Contains(ua, p) {
					matched = append(matched, p)
				}
			}
			if len(matched) == 0 {
				continue
			}
			raw := float64(c.BaseConfidence + c.Step*(len(matched)-1))
			if rng != nil {
				raw = float64(c.BaseConfidence) + rng.Float64()*float64(c.MaxConfidence-c.BaseConfidence)
			}
			out = append(out, finding{
				typ:        model.AnomalyUserAgent,
				clientIP:   e.ClientIP,
				subject:    "entry:" + e.ID,
				at:         e.Timestamp,
				confidence: score(raw, c.DetectorConfig),
				explanation: fmt.Sprintf("Suspicious user agent detected: %q. This user agent matches known suspicious patterns and may indicate automated scanning or attack tools.",
					e.UserAgent),
				details: map[string]any{
					"userAgent":          e.UserAgent,
					"suspiciousPatterns": matched,
					"url":                e.URL,
					"action":             e.Action,
				},
				related: []string{e.ID},
			}.anomaly())
		}
		return out
	}
}

// fileAccess counts downloads of executable or archive extensions per
// (client IP, extension).
func fileAccess(c config.FileAccessConfig) detectFunc {
	exts := make(map[string]struct{}, len(c.Extensions))
	for _, ext := range c.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return func(idx *Index) []model.Anomaly {
		groups := newGrouping()
		type subject struct{ ip, ext string }
		subjects := map[string]subject{}
		for i := range idx.Entries {
			ext := idx.Ext[i]
			if _, ok := exts[ext]; !ok || ext == "" {
				continue
			}
			ip := idx.Entries[i].ClientIP
			key := ip + "_" + ext
			subjects[key] = subject{ip: ip, ext: ext}
			groups.add(key, i)
		}
		var out []model.Anomaly
		for _, key := range groups.Keys {
			pos := groups.Positions[key]
			count := len(pos)
			if float64(count) <= c.Threshold {
				continue
			}
			s := subjects[key]
			out = append(out, finding{
				typ:        model.AnomalyFileAccess,
				clientIP:   s.ip,
				subject:    key,
				at:         idx.Last(pos),
				confidence: score(float64(c.BaseConfidence+c.Step*count), c.DetectorConfig),
				explanation: fmt.Sprintf("Unusual file access pattern detected. Multiple suspicious file types (%s) were accessed %d times, which may indicate malicious activity.",
					s.ext, count),
				details: map[string]any{
					"fileTypes":   []string{s.ext},
					"accessCount": count,
					"uniqueIPs":   1,
					"ips":         []string{s.ip},
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

// geographic compares each source country's unique client IP count with the
// mean across countries. An IP belongs to the last country seen for it.
func geographic(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		if len(idx.IPCountry) == 0 {
			return nil
		}
		perCountry := map[string]int{}
		var countries []string
		for _, ip := range idx.IPCountryOrder {
			country := idx.IPCountry[ip]
			if _, ok := perCountry[country]; !ok {
				countries = append(countries, country)
			}
			perCountry[country]++
		}
		mean := float64(len(idx.IPCountry)) / float64(len(countries))
		threshold := mean * c.Multiplier
		var out []model.Anomaly
		for _, country := range countries {
			count := float64(perCountry[country])
			if count <= threshold {
				continue
			}
			pos := idx.ByCountry.Positions[country]
			out = append(out, finding{
				typ:        model.AnomalyGeographic,
				subject:    "country:" + country,
				at:         idx.Last(pos),
				confidence: score(count/threshold*100, c),
				explanation: fmt.Sprintf("Unusual geographic access pattern from %s. This country has %d unique IPs, which is %.1fx the average per country.",
					country, perCountry[country], count/mean),
				details: map[string]any{
					"country":              country,
					"ipCount":              perCountry[country],
					"averageIPsPerCountry": mean,
					"ratio":                count / mean,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

// ipBehavior reports the first matching trait per IP: block rate, threat
// rate, URL diversity, then user agent diversity.
func ipBehavior(c config.IPBehaviorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		var out []model.Anomaly
		for _, ip := range idx.ByIP.Keys {
			pos := idx.ByIP.Positions[ip]
			var blocked, threats int
			urls := map[string]struct{}{}
			agents := map[string]struct{}{}
			for _, p := range pos {
				e := &idx.Entries[p]
				if e.Blocked() {
					blocked++
				}
				if !model.IsPlaceholder(e.ThreatName) {
					threats++
				}
				if e.URL != "" {
					urls[e.URL] = struct{}{}
				}
				if e.UserAgent != "" {
					agents[e.UserAgent] = struct{}{}
				}
			}
			total := float64(len(pos))
			blockRate := float64(blocked) / total
			threatRate := float64(threats) / total
			urlDiversity := float64(len(urls)) / total
			uaDiversity := float64(len(agents)) / total

			bounds := c.DetectorConfig
			var raw float64
			var explanation string
			switch {
			case blockRate > c.BlockRate:
				raw = blockRate * 100
				explanation = fmt.Sprintf("High block rate (%.1f%%) for IP %s. This IP had %d blocked requests out of %d total requests.",
					blockRate*100, ip, blocked, len(pos))
			case threatRate > c.ThreatRate:
				raw = threatRate * 100
				explanation = fmt.Sprintf("High threat rate (%.1f%%) for IP %s. This IP triggered %d threat detections out of %d total requests.",
					threatRate*100, ip, threats, len(pos))
			case urlDiversity > c.URLDiversity && len(pos) > c.MinURLRequests:
				raw = urlDiversity * 100
				bounds.MaxConfidence = min(bounds.MaxConfidence, c.DiversityMaxConf)
				explanation = fmt.Sprintf("Unusual URL diversity for IP %s. This IP accessed %d unique URLs out of %d total requests (%.1f%% diversity).",
					ip, len(urls), len(pos), urlDiversity*100)
			case uaDiversity > c.UADiversity && len(pos) > c.MinUARequests:
				raw = uaDiversity * 100
				bounds.MaxConfidence = min(bounds.MaxConfidence, c.UserAgentMaxConf)
				explanation = fmt.Sprintf("Unusual user agent diversity for IP %s. This IP used %d unique user agents out of %d total requests (%.1f%% diversity).",
					ip, len(agents), len(pos), uaDiversity*100)
			default:
				continue
			}
			bounds.MinConfidence = min(bounds.MinConfidence, bounds.MaxConfidence)
			out = append(out, finding{
				typ:         model.AnomalyIPBehavior,
				clientIP:    ip,
				at:          idx.Last(pos),
				confidence:  score(raw, bounds),
				explanation: explanation,
				details: map[string]any{
					"blockRate":          blockRate,
					"threatRate":         threatRate,
					"urlDiversity":       urlDiversity,
					"userAgentDiversity": uaDiversity,
					"totalRequests":      len(pos),
					"blockedCount":       blocked,
					"threatCount":        threats,
					"uniqueURLs":         len(urls),
					"uniqueUserAgents":   len(agents),
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}
